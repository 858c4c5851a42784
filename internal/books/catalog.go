package books

import (
	"fmt"
	"sort"
	"strings"
)

// Book is one entry in the user's reading list.
type Book struct {
	ID     string
	Title  string
	Author string
	Status string
	Rating int
	Notes  string
}

// Catalog is a static in-memory reading list. Entries are fixed at
// construction; there is no network call behind any lookup.
type Catalog struct {
	books []Book
}

func NewCatalog(books []Book) *Catalog {
	out := make([]Book, len(books))
	copy(out, books)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return &Catalog{books: out}
}

// DefaultCatalog returns the built-in reading list.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Book{
		{ID: "dune", Title: "Dune", Author: "Frank Herbert", Status: "read", Rating: 5},
		{ID: "snow-crash", Title: "Snow Crash", Author: "Neal Stephenson", Status: "read", Rating: 4},
		{ID: "left-hand", Title: "The Left Hand of Darkness", Author: "Ursula K. Le Guin", Status: "read", Rating: 5, Notes: "re-read candidate"},
	})
}

// List formats every book as a spoken-friendly summary.
func (c *Catalog) List() string {
	if len(c.books) == 0 {
		return "You haven't recorded any books yet."
	}

	lines := make([]string, 0, len(c.books))
	for _, b := range c.books {
		line := fmt.Sprintf("- %s by %s", b.Title, b.Author)
		if b.Rating > 0 {
			line += fmt.Sprintf(" (rated %d/5)", b.Rating)
		}
		if b.Notes != "" {
			line += " - " + b.Notes
		}
		lines = append(lines, line)
	}
	return fmt.Sprintf("You have read %d books:\n%s", len(c.books), strings.Join(lines, "\n"))
}

// Lookup finds a book by id or title, case-insensitively.
func (c *Catalog) Lookup(nameOrID string) (Book, bool) {
	needle := strings.ToLower(strings.TrimSpace(nameOrID))
	if needle == "" {
		return Book{}, false
	}
	for _, b := range c.books {
		if strings.ToLower(b.ID) == needle || strings.ToLower(b.Title) == needle {
			return b, true
		}
	}
	// Fall back to substring match so "the left hand" still resolves.
	for _, b := range c.books {
		if strings.Contains(strings.ToLower(b.Title), needle) {
			return b, true
		}
	}
	return Book{}, false
}

// Describe renders the detail view for one book.
func (c *Catalog) Describe(nameOrID string) string {
	b, ok := c.Lookup(nameOrID)
	if !ok {
		return fmt.Sprintf("I couldn't find a book called %q. Known books: %s.", nameOrID, c.titles())
	}

	out := fmt.Sprintf("%s by %s (%s)", b.Title, b.Author, b.Status)
	if b.Rating > 0 {
		out += fmt.Sprintf(", rated %d/5", b.Rating)
	}
	if b.Notes != "" {
		out += ". Notes: " + b.Notes
	}
	return out
}

func (c *Catalog) titles() string {
	titles := make([]string, 0, len(c.books))
	for _, b := range c.books {
		titles = append(titles, b.Title)
	}
	return strings.Join(titles, ", ")
}
