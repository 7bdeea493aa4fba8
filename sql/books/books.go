// Package books provides queries over the catalog database.
//
// All reads intersect with the common visibility filter (books.visible): an
// item hidden from the library never reaches sync, metadata or download paths.
package books

import (
	"fmt"
	"strings"
	"time"

	"github.com/binderyhq/bindery/sql"
)

// Book is a catalog item.
type Book struct {
	ID              int64
	UUID            string
	Title           string
	Sort            string
	Series          string
	SeriesIndex     float64
	Description     string
	PublicationDate string
	Created         time.Time
	Modified        time.Time
	Visible         bool
}

// Summary is the projection differs work with before resolving full metadata.
type Summary struct {
	ID       int64
	UUID     string
	Created  time.Time
	Modified time.Time
}

// Format is one payload variant of a book.
type Format struct {
	Format string
	Size   int64
	Path   string
}

// Add inserts a book and returns its id. A zero book.ID lets the catalog
// assign one; importers that carry their own ids pass them through.
func Add(db sql.Executor, book *Book) (int64, error) {
	visible := int64(0)
	if book.Visible {
		visible = 1
	}
	var id int64
	if _, err := db.Exec(`
		insert into books (id, uuid, title, sort, series, series_index, description,
			publication_date, created, modified, visible)
		values (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11) returning id;`,
		func(stmt *sql.Statement) {
			if book.ID == 0 {
				stmt.BindNull(1)
			} else {
				stmt.BindInt64(1, book.ID)
			}
			stmt.BindText(2, book.UUID)
			stmt.BindText(3, book.Title)
			stmt.BindText(4, book.Sort)
			stmt.BindText(5, book.Series)
			stmt.BindFloat(6, book.SeriesIndex)
			stmt.BindText(7, book.Description)
			stmt.BindText(8, book.PublicationDate)
			stmt.BindInt64(9, book.Created.Unix())
			stmt.BindInt64(10, book.Modified.Unix())
			stmt.BindInt64(11, visible)
		}, func(stmt *sql.Statement) bool {
			id = stmt.ColumnInt64(0)
			return true
		},
	); err != nil {
		return 0, fmt.Errorf("add book %s: %w", book.UUID, err)
	}
	book.ID = id
	return id, nil
}

func decode(stmt *sql.Statement) *Book {
	return &Book{
		ID:              stmt.ColumnInt64(0),
		UUID:            stmt.ColumnText(1),
		Title:           stmt.ColumnText(2),
		Sort:            stmt.ColumnText(3),
		Series:          stmt.ColumnText(4),
		SeriesIndex:     stmt.ColumnFloat(5),
		Description:     stmt.ColumnText(6),
		PublicationDate: stmt.ColumnText(7),
		Created:         time.Unix(stmt.ColumnInt64(8), 0).UTC(),
		Modified:        time.Unix(stmt.ColumnInt64(9), 0).UTC(),
		Visible:         stmt.ColumnInt64(10) != 0,
	}
}

const bookColumns = `id, uuid, title, sort, series, series_index, description,
	publication_date, created, modified, visible`

// Get returns a visible book by id.
func Get(db sql.Executor, id int64) (*Book, error) {
	var book *Book
	rows, err := db.Exec(
		"select "+bookColumns+" from books where id = ?1 and visible = 1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
		}, func(stmt *sql.Statement) bool {
			book = decode(stmt)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("get book %d: %w", id, err)
	} else if rows == 0 {
		return nil, fmt.Errorf("get book %d: %w", id, sql.ErrNotFound)
	}
	return book, nil
}

// GetByUUID returns a visible book by its stable uuid.
func GetByUUID(db sql.Executor, uuid string) (*Book, error) {
	var book *Book
	rows, err := db.Exec(
		"select "+bookColumns+" from books where uuid = ?1 and visible = 1;",
		func(stmt *sql.Statement) {
			stmt.BindText(1, uuid)
		}, func(stmt *sql.Statement) bool {
			book = decode(stmt)
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("get book %s: %w", uuid, err)
	} else if rows == 0 {
		return nil, fmt.Errorf("get book %s: %w", uuid, sql.ErrNotFound)
	}
	return book, nil
}

// UUIDByID returns the stable uuid of a book regardless of visibility.
// Removal records must still address items that were hidden after syncing.
func UUIDByID(db sql.Executor, id int64) (string, error) {
	var uuid string
	rows, err := db.Exec("select uuid from books where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
		}, func(stmt *sql.Statement) bool {
			uuid = stmt.ColumnText(0)
			return true
		})
	if err != nil {
		return "", fmt.Errorf("uuid of book %d: %w", id, err)
	} else if rows == 0 {
		return "", fmt.Errorf("uuid of book %d: %w", id, sql.ErrNotFound)
	}
	return uuid, nil
}

// Touch bumps the modification timestamp of a book.
func Touch(db sql.Executor, id int64, when time.Time) error {
	rows, err := db.Exec("update books set modified = ?2 where id = ?1;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
			stmt.BindInt64(2, when.Unix())
		}, nil)
	if err != nil {
		return fmt.Errorf("touch book %d: %w", id, err)
	} else if rows == 0 {
		return fmt.Errorf("touch book %d: %w", id, sql.ErrNotFound)
	}
	return nil
}

// Summaries returns all visible books ordered by id.
func Summaries(db sql.Executor) ([]Summary, error) {
	var rst []Summary
	if _, err := db.Exec(
		"select id, uuid, created, modified from books where visible = 1 order by id asc;",
		nil, func(stmt *sql.Statement) bool {
			rst = append(rst, Summary{
				ID:       stmt.ColumnInt64(0),
				UUID:     stmt.ColumnText(1),
				Created:  time.Unix(stmt.ColumnInt64(2), 0).UTC(),
				Modified: time.Unix(stmt.ColumnInt64(3), 0).UTC(),
			})
			return true
		}); err != nil {
		return nil, fmt.Errorf("book summaries: %w", err)
	}
	return rst, nil
}

// AddContributor links an ordered contributor name to a book.
func AddContributor(db sql.Executor, id int64, name string, order int) error {
	if _, err := db.Exec(`
		insert into book_contributors (book_id, name, sort_order) values (?1, ?2, ?3);`,
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
			stmt.BindText(2, name)
			stmt.BindInt64(3, int64(order))
		}, nil,
	); err != nil {
		return fmt.Errorf("add contributor for book %d: %w", id, err)
	}
	return nil
}

// Contributors returns the ordered contributor names of a book.
func Contributors(db sql.Executor, id int64) ([]string, error) {
	var rst []string
	if _, err := db.Exec(
		"select name from book_contributors where book_id = ?1 order by sort_order asc, name asc;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
		}, func(stmt *sql.Statement) bool {
			rst = append(rst, stmt.ColumnText(0))
			return true
		}); err != nil {
		return nil, fmt.Errorf("contributors for book %d: %w", id, err)
	}
	return rst, nil
}

// AddFormat registers an available payload format for a book.
func AddFormat(db sql.Executor, id int64, format Format) error {
	if _, err := db.Exec(`
		insert into book_formats (book_id, format, size, path) values (?1, ?2, ?3, ?4);`,
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
			stmt.BindText(2, strings.ToUpper(format.Format))
			stmt.BindInt64(3, format.Size)
			stmt.BindText(4, format.Path)
		}, nil,
	); err != nil {
		return fmt.Errorf("add format %s for book %d: %w", format.Format, id, err)
	}
	return nil
}

// Formats returns the available formats of a book.
func Formats(db sql.Executor, id int64) ([]Format, error) {
	var rst []Format
	if _, err := db.Exec(
		"select format, size, path from book_formats where book_id = ?1 order by format asc;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
		}, func(stmt *sql.Statement) bool {
			rst = append(rst, Format{
				Format: stmt.ColumnText(0),
				Size:   stmt.ColumnInt64(1),
				Path:   stmt.ColumnText(2),
			})
			return true
		}); err != nil {
		return nil, fmt.Errorf("formats for book %d: %w", id, err)
	}
	return rst, nil
}

// GetFormat returns a specific format of a book.
func GetFormat(db sql.Executor, id int64, format string) (*Format, error) {
	var rst *Format
	rows, err := db.Exec(
		"select format, size, path from book_formats where book_id = ?1 and format = ?2;",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
			stmt.BindText(2, strings.ToUpper(format))
		}, func(stmt *sql.Statement) bool {
			rst = &Format{
				Format: stmt.ColumnText(0),
				Size:   stmt.ColumnInt64(1),
				Path:   stmt.ColumnText(2),
			}
			return true
		})
	if err != nil {
		return nil, fmt.Errorf("format %s for book %d: %w", format, id, err)
	} else if rows == 0 {
		return nil, fmt.Errorf("format %s for book %d: %w", format, id, sql.ErrNotFound)
	}
	return rst, nil
}

// AddSubject tags a book with a subject label.
func AddSubject(db sql.Executor, id int64, subject string) error {
	return addFacetRow(db, "book_subjects", "subject", id, subject)
}

// Subjects returns the subject labels of a book.
func Subjects(db sql.Executor, id int64) ([]string, error) {
	return facetRows(db, "book_subjects", "subject", id)
}

// AddPublisher links a publisher to a book.
func AddPublisher(db sql.Executor, id int64, publisher string) error {
	return addFacetRow(db, "book_publishers", "publisher", id, publisher)
}

// Publishers returns the publishers of a book.
func Publishers(db sql.Executor, id int64) ([]string, error) {
	return facetRows(db, "book_publishers", "publisher", id)
}

// AddLanguage links a language code to a book.
func AddLanguage(db sql.Executor, id int64, lang string) error {
	return addFacetRow(db, "book_languages", "lang", id, lang)
}

// Languages returns the language codes of a book.
func Languages(db sql.Executor, id int64) ([]string, error) {
	return facetRows(db, "book_languages", "lang", id)
}

// AddField sets a custom metadata field value on a book.
func AddField(db sql.Executor, id int64, field, value string) error {
	if _, err := db.Exec(
		"insert into book_fields (book_id, field, value) values (?1, ?2, ?3);",
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
			stmt.BindText(2, field)
			stmt.BindText(3, value)
		}, nil,
	); err != nil {
		return fmt.Errorf("add field %s for book %d: %w", field, id, err)
	}
	return nil
}

func addFacetRow(db sql.Executor, table, column string, id int64, value string) error {
	if _, err := db.Exec(
		fmt.Sprintf("insert into %s (book_id, %s) values (?1, ?2);", table, column),
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
			stmt.BindText(2, value)
		}, nil,
	); err != nil {
		return fmt.Errorf("add %s for book %d: %w", column, id, err)
	}
	return nil
}

func facetRows(db sql.Executor, table, column string, id int64) ([]string, error) {
	var rst []string
	if _, err := db.Exec(
		fmt.Sprintf("select %s from %s where book_id = ?1 order by %s asc;", column, table, column),
		func(stmt *sql.Statement) {
			stmt.BindInt64(1, id)
		}, func(stmt *sql.Statement) bool {
			rst = append(rst, stmt.ColumnText(0))
			return true
		}); err != nil {
		return nil, fmt.Errorf("%s for book %d: %w", column, id, err)
	}
	return rst, nil
}

// Facet sources understood by ByFacet. Custom metadata fields use the
// "cc:<field>" form.
const (
	FacetSubjects   = "tags"
	FacetAuthors    = "authors"
	FacetPublishers = "publishers"
	FacetLanguages  = "languages"

	customFieldPrefix = "cc:"
)

// ByFacet returns summaries of visible books matching a facet value.
func ByFacet(db sql.Executor, source, value string) ([]Summary, error) {
	var join string
	switch source {
	case FacetSubjects:
		join = "join book_subjects f on f.book_id = b.id and f.subject = ?1"
	case FacetAuthors:
		join = "join book_contributors f on f.book_id = b.id and f.name = ?1"
	case FacetPublishers:
		join = "join book_publishers f on f.book_id = b.id and f.publisher = ?1"
	case FacetLanguages:
		join = "join book_languages f on f.book_id = b.id and f.lang = ?1"
	default:
		if !strings.HasPrefix(source, customFieldPrefix) {
			return nil, fmt.Errorf("unknown facet source %q", source)
		}
		join = "join book_fields f on f.book_id = b.id and f.field = ?2 and f.value = ?1"
	}
	field := strings.TrimPrefix(source, customFieldPrefix)
	var rst []Summary
	if _, err := db.Exec(`
		select b.id, b.uuid, b.created, b.modified from books b `+join+`
		where b.visible = 1 order by b.id asc;`,
		func(stmt *sql.Statement) {
			stmt.BindText(1, value)
			if strings.HasPrefix(source, customFieldPrefix) {
				stmt.BindText(2, field)
			}
		}, func(stmt *sql.Statement) bool {
			rst = append(rst, Summary{
				ID:       stmt.ColumnInt64(0),
				UUID:     stmt.ColumnText(1),
				Created:  time.Unix(stmt.ColumnInt64(2), 0).UTC(),
				Modified: time.Unix(stmt.ColumnInt64(3), 0).UTC(),
			})
			return true
		}); err != nil {
		return nil, fmt.Errorf("books by facet %s=%s: %w", source, value, err)
	}
	return rst, nil
}
