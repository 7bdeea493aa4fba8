package syncer

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireTimeFormat is the timestamp layout devices expect on the wire.
const wireTimeFormat = "2006-01-02T15:04:05Z"

// Timestamp wraps time.Time with the device wire format.
type Timestamp struct {
	time.Time
}

// NewTimestamp converts a time to its wire representation.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Second)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(wireTimeFormat))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.Parse(wireTimeFormat, raw)
	if err != nil {
		// Devices occasionally send fractional seconds or offsets.
		parsed, err = time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", raw, err)
		}
	}
	t.Time = parsed.UTC().Truncate(time.Second)
	return nil
}

// RecordKind tags one variant of the sync record union.
type RecordKind string

const (
	KindNewEntitlement      RecordKind = "NewEntitlement"
	KindChangedEntitlement  RecordKind = "ChangedEntitlement"
	KindChangedReadingState RecordKind = "ChangedReadingState"
	KindNewTag              RecordKind = "NewTag"
	KindChangedTag          RecordKind = "ChangedTag"
	KindDeletedTag          RecordKind = "DeletedTag"
)

// Record is one element of the sync response array. Exactly one payload is
// set, selected by Kind; serialization is exhaustive over the closed set of
// kinds and fails loudly on an unknown one.
type Record struct {
	Kind        RecordKind
	Entitlement *EntitlementPayload
	Reading     *ReadingStatePayload
	Tag         *TagPayload
}

func (r Record) MarshalJSON() ([]byte, error) {
	var payload any
	switch r.Kind {
	case KindNewEntitlement, KindChangedEntitlement:
		if r.Entitlement == nil {
			return nil, fmt.Errorf("sync record %s has no payload", r.Kind)
		}
		payload = r.Entitlement
	case KindChangedReadingState:
		if r.Reading == nil {
			return nil, fmt.Errorf("sync record %s has no payload", r.Kind)
		}
		payload = r.Reading
	case KindNewTag, KindChangedTag, KindDeletedTag:
		if r.Tag == nil {
			return nil, fmt.Errorf("sync record %s has no payload", r.Kind)
		}
		payload = r.Tag
	default:
		return nil, fmt.Errorf("sync record kind %q is not known", r.Kind)
	}
	return json.Marshal(map[string]any{string(r.Kind): payload})
}

// EntitlementPayload carries a book the device may acquire, keep or remove
// together with its metadata and reading state.
type EntitlementPayload struct {
	BookEntitlement BookEntitlement `json:"BookEntitlement"`
	BookMetadata    *BookMetadata   `json:"BookMetadata,omitempty"`
	ReadingState    *ReadingState   `json:"ReadingState,omitempty"`
}

// BookEntitlement is the device-side ownership record of one item.
type BookEntitlement struct {
	Accessibility       string       `json:"Accessibility"`
	ActivePeriod        ActivePeriod `json:"ActivePeriod"`
	Created             Timestamp    `json:"Created"`
	CrossRevisionID     string       `json:"CrossRevisionId"`
	ID                  string       `json:"Id"`
	IsRemoved           bool         `json:"IsRemoved"`
	IsHiddenFromArchive bool         `json:"IsHiddenFromArchive"`
	IsLocked            bool         `json:"IsLocked"`
	LastModified        Timestamp    `json:"LastModified"`
	OriginCategory      string       `json:"OriginCategory"`
	RevisionID          string       `json:"RevisionId"`
	Status              string       `json:"Status"`
}

// ActivePeriod bounds entitlement validity; self-hosted items are valid from
// their sync time onward.
type ActivePeriod struct {
	From Timestamp `json:"From"`
}

// BookMetadata describes the item to the device.
type BookMetadata struct {
	CrossRevisionID   string        `json:"CrossRevisionId"`
	RevisionID        string        `json:"RevisionId"`
	EntitlementID     string        `json:"EntitlementId"`
	WorkID            string        `json:"WorkId"`
	Title             string        `json:"Title"`
	Description       string        `json:"Description"`
	Contributors      []string      `json:"Contributors"`
	ContributorRoles  []Contributor `json:"ContributorRoles"`
	Publisher         Publisher     `json:"Publisher"`
	PublicationDate   string        `json:"PublicationDate,omitempty"`
	Language          string        `json:"Language,omitempty"`
	Series            *Series       `json:"Series,omitempty"`
	DownloadUrls      []DownloadURL `json:"DownloadUrls"`
	CoverImageID      string        `json:"CoverImageId,omitempty"`
	IsPreOrder        bool          `json:"IsPreOrder"`
	IsInternetArchive bool          `json:"IsInternetArchive"`
}

// Contributor is a named creator role.
type Contributor struct {
	Name string `json:"Name"`
}

// Publisher identifies the imprint of an item.
type Publisher struct {
	Imprint string `json:"Imprint"`
	Name    string `json:"Name"`
}

// Series places an item inside its series.
type Series struct {
	Name        string  `json:"Name"`
	Number      string  `json:"Number"`
	NumberFloat float64 `json:"NumberFloat"`
	ID          string  `json:"Id"`
}

// DownloadURL points the device at one payload format.
type DownloadURL struct {
	DRMType  string `json:"DrmType"`
	Format   string `json:"Format"`
	Size     int64  `json:"Size"`
	URL      string `json:"Url"`
	Platform string `json:"Platform"`
}

// ReadingStatePayload is the ChangedReadingState record body.
type ReadingStatePayload struct {
	ReadingState ReadingState `json:"ReadingState"`
}

// ReadingState mirrors the device reading-progress document.
type ReadingState struct {
	EntitlementID     string          `json:"EntitlementId"`
	Created           Timestamp       `json:"Created"`
	LastModified      Timestamp       `json:"LastModified"`
	PriorityTimestamp Timestamp       `json:"PriorityTimestamp"`
	StatusInfo        StatusInfo      `json:"StatusInfo"`
	Statistics        Statistics      `json:"Statistics"`
	CurrentBookmark   CurrentBookmark `json:"CurrentBookmark"`
}

// StatusInfo tracks the reading lifecycle of an item.
type StatusInfo struct {
	LastModified        Timestamp `json:"LastModified"`
	Status              string    `json:"Status"`
	TimesStartedReading int       `json:"TimesStartedReading"`
}

// Statistics carries aggregate reading-time counters.
type Statistics struct {
	LastModified         Timestamp `json:"LastModified"`
	SpentReadingMinutes  *int      `json:"SpentReadingMinutes,omitempty"`
	RemainingTimeMinutes *int      `json:"RemainingTimeMinutes,omitempty"`
}

// CurrentBookmark is the furthest reading position.
type CurrentBookmark struct {
	LastModified                 Timestamp `json:"LastModified"`
	ProgressPercent              *float64  `json:"ProgressPercent,omitempty"`
	ContentSourceProgressPercent *float64  `json:"ContentSourceProgressPercent,omitempty"`
	Location                     *Location `json:"Location,omitempty"`
}

// Location pins the bookmark inside the content.
type Location struct {
	Value  string `json:"Value"`
	Type   string `json:"Type"`
	Source string `json:"Source"`
}

// TagPayload is the body of NewTag, ChangedTag and DeletedTag records.
type TagPayload struct {
	Tag Tag `json:"Tag"`
}

// Tag is the device-visible form of a collection. Deletions carry the id
// alone.
type Tag struct {
	ID           string     `json:"Id"`
	Created      *Timestamp `json:"Created,omitempty"`
	LastModified *Timestamp `json:"LastModified,omitempty"`
	Name         string     `json:"Name,omitempty"`
	Type         string     `json:"Type,omitempty"`
	Items        []TagItem  `json:"Items,omitempty"`
}

// TagItem references one collection member by catalog revision.
type TagItem struct {
	RevisionID string `json:"RevisionId"`
	Type       string `json:"Type"`
}

// Wire constants shared by record assembly.
const (
	accessibilityFull = "Full"
	originImported    = "Imported"
	statusActive      = "Active"
	tagTypeUser       = "UserTag"
	tagItemType       = "ProductRevisionTagItem"
	drmTypeNone       = "None"
	downloadPlatform  = "Generic"
)

// Response is the outcome of one successful sync round: local records, raw
// upstream passthrough records, the next cursor and the continuation flag.
type Response struct {
	Records      []Record
	Upstream     []json.RawMessage
	Token        Token
	Continuation bool
}

// Payload flattens local and upstream records into the single JSON array the
// device consumes.
func (r *Response) Payload() ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(r.Records)+len(r.Upstream))
	for _, rec := range r.Records {
		raw, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("marshal %s record: %w", rec.Kind, err)
		}
		out = append(out, raw)
	}
	out = append(out, r.Upstream...)
	return out, nil
}
