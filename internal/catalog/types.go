// Package catalog holds the storage-agnostic entities of spec §3 and the
// abstract collaborator interfaces of spec §6 that IDX, SIM, CR and CAG
// depend on. Nothing here assumes a particular storage engine.
package catalog

import "time"

// Kind enumerates the media kinds an Item can be.
type Kind string

const (
	KindFilm          Kind = "film"
	KindSeries        Kind = "series"
	KindAnime         Kind = "anime"
	KindDocumentary   Kind = "documentary"
	KindAlbum         Kind = "album"
	KindTrack         Kind = "track"
)

// AttrKind tags the variant stored in an Item's custom attribute bag, per
// the "open custom-attribute bag" redesign note in spec §9: a tagged-variant
// map instead of untyped JSON, so CR's criterion evaluator can dispatch on
// the tag without runtime type assertions scattered through the hot path.
type AttrKind string

const (
	AttrBool       AttrKind = "bool"
	AttrNumber     AttrKind = "number"
	AttrString     AttrKind = "string"
	AttrStringList AttrKind = "string_list"
)

// Attr is one value in an Item's custom attribute bag.
type Attr struct {
	Kind   AttrKind
	Bool   bool
	Number float64
	Str    string
	List   []string
}

// Item is a single media artifact, per spec §3.
type Item struct {
	ID              string
	Kind            Kind
	Title           string
	OriginalTitle   string
	ReleaseDate     time.Time
	RuntimeSeconds  int
	MaturityRating  string
	Popularity      float64
	ExternalRating  float64
	ExternalVotes   int
	PersonalRating  *float64 // nil = absent
	Language        string
	Overview        string
	Tagline         string
	PosterRef       string
	BackdropRef     string
	Status          string
	CustomAttrs     map[string]Attr
}

// Genre is a taxonomy node; Genres form a forest (GenreStore enforces
// no-cycles / single-parent).
type Genre struct {
	Slug       string
	Name       string
	ParentSlug string // "" = root
	Category   string
	Active     bool
}

// Person is a cast/crew record. AggregateRating is derived by IDX, not
// stored authoritatively here (callers read it back through ScoringProfile
// or PersonAggregate).
type Person struct {
	ID         string
	Name       string
	Department string
}

// Role identifies a Credit's function. Crew roles are "crew-<department>-<job>".
type Role string

const RoleCast Role = "cast"

// Credit ties an Item, a Person and a Role together.
type Credit struct {
	ItemID    string
	PersonID  string
	Role      Role
	Billing   int    // cast only; lower = more prominent
	Character string // cast only
}

// IsCrew reports whether the role is a crew-<department>-<job> role.
func (c Credit) IsCrew() bool { return c.Role != RoleCast }

// GenreLink attaches a weighted genre to an item.
type GenreLink struct {
	ItemID string
	Genre  string
	Weight float64
}

// Review is a personal rating + note bound to one item.
type Review struct {
	ItemID      string
	Rating      float64
	Text        string
	WatchedDate time.Time
	Tags        []string
}

// WatchEvent is an append-only playback record.
type WatchEvent struct {
	ItemID           string
	Timestamp        time.Time
	CompletionFraction float64
	Source           string
}

// PersonaProfile is a named critical voice CAG can load.
type PersonaProfile struct {
	ID               string
	DisplayName      string
	SystemPreamble   string
	StyleConstraints []string
	ForbiddenTopics  []string
}

// Filter restricts a candidate item set. Zero-valued fields are unset.
type Filter struct {
	Kinds        []Kind
	YearMin      int
	YearMax      int
	GenreAny     []string
	Language     string
	ExcludeIDs   map[string]bool
	ExcludeWatched bool
}

// Cursor pages through iter_items.
type Cursor struct {
	Offset int
}
