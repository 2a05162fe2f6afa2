package timezone

import (
	_ "embed"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed common_timezones.txt
var commonTimezones string

var ErrInvalidIdentifier = errors.New("invalid timezone identifier")

// Catalog groups timezone identifiers by their leading component.
type Catalog struct {
	zones map[string][]string
}

// Default is built from the embedded list of common timezone identifiers.
func Default() *Catalog {
	return New(strings.Split(commonTimezones, "\n"))
}

// New builds a catalog from identifiers such as "Europe/Berlin".
// Identifiers without a "/" are skipped. The zone part is everything after
// the first separator.
func New(identifiers []string) *Catalog {
	grouped := map[string]map[string]struct{}{}
	for _, raw := range identifiers {
		id := strings.TrimSpace(raw)
		continent, zone, ok := strings.Cut(id, "/")
		if !ok || continent == "" || zone == "" {
			continue
		}
		if grouped[continent] == nil {
			grouped[continent] = map[string]struct{}{}
		}
		grouped[continent][zone] = struct{}{}
	}

	zones := make(map[string][]string, len(grouped))
	for continent, set := range grouped {
		list := make([]string, 0, len(set))
		for zone := range set {
			list = append(list, zone)
		}
		sort.Strings(list)
		zones[continent] = list
	}
	return &Catalog{zones: zones}
}

func (c *Catalog) Continents() []string {
	out := make([]string, 0, len(c.zones))
	for continent := range c.zones {
		out = append(out, continent)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) HasContinent(continent string) bool {
	_, ok := c.zones[continent]
	return ok
}

// Zones returns nil for an unknown continent.
func (c *Catalog) Zones(continent string) []string {
	list, ok := c.zones[continent]
	if !ok {
		return nil
	}
	out := make([]string, len(list))
	copy(out, list)
	return out
}

// Identifier joins a continent and a zone into "Continent/Zone".
func Identifier(continent string, zone string) string {
	return continent + "/" + zone
}

// DataFile returns the path of the timezone data file for id under
// zoneinfoDir. Identifiers that would resolve outside the directory are
// rejected.
func DataFile(zoneinfoDir string, id string) (string, error) {
	if id == "" || filepath.IsAbs(id) {
		return "", ErrInvalidIdentifier
	}
	root := filepath.Clean(zoneinfoDir)
	path := filepath.Join(root, id)
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrInvalidIdentifier
	}
	return path, nil
}

// Exists reports whether a regular data file for id exists under
// zoneinfoDir.
func Exists(zoneinfoDir string, id string) bool {
	path, err := DataFile(zoneinfoDir, id)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
