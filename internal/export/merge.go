package export

import (
	"strconv"
	"strings"
	"time"

	"github.com/eloisaabril01/emailscrap/internal/listing"
)

// Row is one data row of a destination or of the combined table.
type Row struct {
	Serial    int
	Name      string
	Address   string
	Phone     string
	Website   string
	Emails    string
	Source    string
	DateAdded string

	combined bool
}

func (r Row) cells() []any {
	out := []any{r.Serial, r.Name, r.Address, r.Phone, r.Website, r.Emails}
	if r.combined {
		out = append(out, r.Source)
	}
	return append(out, r.DateAdded)
}

type nameAddress struct{ name, address string }

// mergeRows returns the rows to append for results, given the destination's existing
// data rows. Serials continue from the highest existing serial without gaps; results
// matching an existing or earlier (name, address) are dropped.
func mergeRows(existing [][]string, results []listing.VerifiedResult, now time.Time) []Row {
	seen := make(map[nameAddress]struct{}, len(existing)+len(results))
	serial := 0
	for _, rec := range existing {
		if n, ok := parseSerial(cell(rec, 0)); ok && n > serial {
			serial = n
		}
		seen[nameAddress{cell(rec, 1), cell(rec, 2)}] = struct{}{}
	}

	stamp := now.Format(TimestampLayout)
	var out []Row
	for _, r := range results {
		key := nameAddress{r.Name, r.Address}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		serial++
		out = append(out, Row{
			Serial:    serial,
			Name:      r.Name,
			Address:   r.Address,
			Phone:     r.Phone,
			Website:   orNA(r.Website),
			Emails:    orNA(strings.Join(r.Emails, ", ")),
			DateAdded: stamp,
		})
	}
	return out
}

func parseSerial(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	// Spreadsheet editors sometimes store whole numbers as floats.
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int(f)) {
		return int(f), true
	}
	return 0, false
}

func cell(rec []string, i int) string {
	if i < len(rec) {
		return rec[i]
	}
	return ""
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}
