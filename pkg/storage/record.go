package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a record or session does not exist.
var ErrNotFound = errors.New("not found")

// Kind is the clipboard item type reported by the sync client.
type Kind string

// Known kinds. Any other value is stored verbatim.
const (
	KindText  Kind = "Text"
	KindImage Kind = "Image"
	KindFile  Kind = "File"
	KindGroup Kind = "Group"
)

// KnownKinds lists the kinds broken out in statistics, in display order.
var KnownKinds = []Kind{KindText, KindImage, KindFile, KindGroup}

// HasPayload reports whether items of this kind reference a payload file.
func (k Kind) HasPayload() bool {
	switch k {
	case KindImage, KindFile, KindGroup:
		return true
	default:
		return false
	}
}

// Record is one captured clipboard event.
type Record struct {
	ID        int64
	Kind      Kind
	Content   string
	FilePath  *string // relative to the data root, slash separated
	FileHash  *string
	FileSize  *int64
	CreatedAt time.Time
	ExtraData *string // raw JSON, may be malformed if edited by hand
	Favorited bool
}

// HasFile reports whether the record references a snapshot.
func (r *Record) HasFile() bool {
	return r.FilePath != nil && *r.FilePath != ""
}

// favoriteKey is the extra_data key carrying the favorite flag.
const favoriteKey = "favorited"

// Legacy substring markers for a true favorite flag.
const (
	favoriteMarkerCompact = `"favorited":true`
	favoriteMarkerSpaced  = `"favorited": true`
)

// DecodeExtra parses extra_data into a mapping. Absent or malformed input
// yields an empty mapping and ok=false.
func DecodeExtra(raw *string) (extra map[string]any, ok bool) {
	extra = map[string]any{}
	if raw == nil || *raw == "" {
		return extra, false
	}
	// Numbers stay json.Number so a rewrite does not lose integer precision.
	dec := json.NewDecoder(bytes.NewReader([]byte(*raw)))
	dec.UseNumber()
	var decoded map[string]any
	if err := dec.Decode(&decoded); err != nil || decoded == nil {
		return extra, false
	}
	if dec.More() {
		return extra, false
	}
	return decoded, true
}

// EncodeExtra serializes a metadata mapping for storage. HTML characters
// are left unescaped so that stored text stays searchable as written.
func EncodeExtra(extra map[string]any) (string, error) {
	return marshalNoEscape(extra)
}

// ExtraFavorited reports the favorite flag carried by extra_data.
func ExtraFavorited(raw *string) bool {
	extra, _ := DecodeExtra(raw)
	v, _ := extra[favoriteKey].(bool)
	return v
}

// SetExtraFavorited returns extra_data re-encoded with the favorite flag set.
// Unknown keys are preserved; unparseable prior content is discarded.
func SetExtraFavorited(raw *string, favorited bool) (string, error) {
	extra, _ := DecodeExtra(raw)
	extra[favoriteKey] = favorited
	return EncodeExtra(extra)
}

func marshalNoEscape(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}
