package objectstore

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"path"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aouyang1/go-ensembler/failure"
	"github.com/aouyang1/go-ensembler/feature"
	"github.com/aouyang1/go-ensembler/panel"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

var (
	ErrUnknownFormat = failure.New(failure.ErrValidation, "unknown object format")
	ErrMalformed     = failure.New(failure.ErrDataAccess, "malformed object")
	ErrMissingColumn = failure.New(failure.ErrDataAccess, "required column missing")
)

// Format is the encoding of an object
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat accepts a format name, falling back to the extension of path when name is empty
func ParseFormat(name, objectPath string) (Format, error) {
	if name == "" {
		name = strings.TrimPrefix(path.Ext(objectPath), ".")
	}
	switch Format(strings.ToLower(name)) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%q, %w", name, ErrUnknownFormat)
}

// ReadOptions name the columns of a panel object
type ReadOptions struct {
	Freq            panel.Frequency `json:"frequency" yaml:"frequency"`
	EntityColumn    string          `json:"entity_column" yaml:"entity_column"`
	TimeColumn      string          `json:"time_column" yaml:"time_column"`
	TargetColumn    string          `json:"target_column" yaml:"target_column"`
	ReferenceColumn string          `json:"reference_column" yaml:"reference_column"`
	TimeLayout      string          `json:"time_layout" yaml:"time_layout"`

	// Categorical columns are expanded into dummy feature columns
	Categorical []string `json:"categorical" yaml:"categorical"`

	// Ignore lists columns that are neither features nor one of the named columns
	Ignore []string `json:"ignore" yaml:"ignore"`
}

func NewDefaultReadOptions() *ReadOptions {
	return &ReadOptions{
		EntityColumn:    "entity",
		TimeColumn:      "time",
		TargetColumn:    "target",
		ReferenceColumn: "reference",
		TimeLayout:      time.DateOnly,
	}
}

func (o *ReadOptions) withDefaults() ReadOptions {
	def := NewDefaultReadOptions()
	if o == nil {
		return *def
	}
	out := *o
	if out.EntityColumn == "" {
		out.EntityColumn = def.EntityColumn
	}
	if out.TimeColumn == "" {
		out.TimeColumn = def.TimeColumn
	}
	if out.TargetColumn == "" {
		out.TargetColumn = def.TargetColumn
	}
	if out.ReferenceColumn == "" {
		out.ReferenceColumn = def.ReferenceColumn
	}
	if out.TimeLayout == "" {
		out.TimeLayout = def.TimeLayout
	}
	return out
}

// record is one decoded row keyed by column name
type record map[string]string

// ReadPanel gets an object and decodes it into a panel. Every column besides the named ones
// becomes a numeric feature, categorical columns become dummies. A missing reference cell is
// NaN.
func ReadPanel(ctx context.Context, s Store, objectPath string, format Format, opt *ReadOptions) (*panel.Panel, error) {
	o := opt.withDefaults()
	if err := o.Freq.Valid(); err != nil {
		return nil, err
	}
	columns, records, err := getRecords(ctx, s, objectPath, format)
	if err != nil {
		return nil, err
	}
	return buildPanel(columns, records, o)
}

// ReadReferences reads the reference forecast of rows outside a panel, typically over the
// forecast horizon. Only the entity, time and reference columns are read. Entities missing
// from the encoding are skipped.
func ReadReferences(ctx context.Context, s Store, objectPath string, format Format, entities *panel.Encoding, opt *ReadOptions) (map[panel.Key]float64, error) {
	o := opt.withDefaults()
	columns, records, err := getRecords(ctx, s, objectPath, format)
	if err != nil {
		return nil, err
	}
	for _, c := range []string{o.EntityColumn, o.TimeColumn, o.ReferenceColumn} {
		if !slices.Contains(columns, c) {
			return nil, fmt.Errorf("%q, %w", c, ErrMissingColumn)
		}
	}

	refs := make(map[panel.Key]float64, len(records))
	skipped := 0
	for i, r := range records {
		entity, exists := entities.Lookup(r[o.EntityColumn])
		if !exists {
			skipped++
			continue
		}
		ts, err := time.Parse(o.TimeLayout, r[o.TimeColumn])
		if err != nil {
			return nil, fmt.Errorf("row %d time %q, %w", i+1, r[o.TimeColumn], ErrMalformed)
		}
		ref, err := parseFloat(r[o.ReferenceColumn])
		if err != nil {
			return nil, fmt.Errorf("row %d reference %q, %w", i+1, r[o.ReferenceColumn], ErrMalformed)
		}
		refs[panel.KeyOf(entity, ts)] = ref
	}
	if skipped > 0 {
		log.Debug().Str("path", objectPath).Int("rows", skipped).Msg("skipped references of unknown entities")
	}
	return refs, nil
}

func getRecords(ctx context.Context, s Store, objectPath string, format Format) ([]string, []record, error) {
	data, err := s.Get(ctx, objectPath)
	if err != nil {
		return nil, nil, err
	}

	var columns []string
	var records []record
	switch format {
	case FormatCSV:
		columns, records, err = decodeCSV(data)
	case FormatJSON:
		columns, records, err = decodeJSON(data)
	default:
		err = fmt.Errorf("%q, %w", format, ErrUnknownFormat)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%s, %w", objectPath, err)
	}
	return columns, records, nil
}

func buildPanel(columns []string, records []record, o ReadOptions) (*panel.Panel, error) {
	present := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		present[c] = struct{}{}
	}
	for _, c := range []string{o.EntityColumn, o.TimeColumn, o.TargetColumn} {
		if _, exists := present[c]; !exists {
			return nil, fmt.Errorf("%q, %w", c, ErrMissingColumn)
		}
	}

	skip := map[string]struct{}{
		o.EntityColumn:    {},
		o.TimeColumn:      {},
		o.TargetColumn:    {},
		o.ReferenceColumn: {},
	}
	for _, c := range o.Ignore {
		skip[c] = struct{}{}
	}
	categorical := make(map[string]struct{}, len(o.Categorical))
	for _, c := range o.Categorical {
		if _, exists := present[c]; !exists {
			return nil, fmt.Errorf("categorical %q, %w", c, ErrMissingColumn)
		}
		categorical[c] = struct{}{}
		skip[c] = struct{}{}
	}
	var numeric []string
	for _, c := range columns {
		if _, exists := skip[c]; !exists {
			numeric = append(numeric, c)
		}
	}

	dummies := make([]map[string]float64, len(records))
	for i := range dummies {
		dummies[i] = make(map[string]float64)
	}
	for _, c := range o.Categorical {
		values := make([]string, len(records))
		for i, r := range records {
			values[i] = r[c]
		}
		names, rows := feature.Dummies(c, values)
		for i, row := range rows {
			for j, name := range names {
				dummies[i][name] = row[j]
			}
		}
	}

	b := panel.NewBuilder(o.Freq)
	for i, r := range records {
		line := i + 1
		ts, err := time.Parse(o.TimeLayout, r[o.TimeColumn])
		if err != nil {
			return nil, fmt.Errorf("row %d time %q, %w", line, r[o.TimeColumn], ErrMalformed)
		}
		target, err := parseFloat(r[o.TargetColumn])
		if err != nil {
			return nil, fmt.Errorf("row %d target %q, %w", line, r[o.TargetColumn], ErrMalformed)
		}
		ref, err := parseFloat(r[o.ReferenceColumn])
		if err != nil {
			return nil, fmt.Errorf("row %d reference %q, %w", line, r[o.ReferenceColumn], ErrMalformed)
		}
		feats := dummies[i]
		for _, c := range numeric {
			v, err := parseFloat(r[c])
			if err != nil || math.IsNaN(v) {
				return nil, fmt.Errorf("row %d column %s value %q, %w", line, c, r[c], ErrMalformed)
			}
			feats[c] = v
		}
		b.Add(r[o.EntityColumn], ts, target, ref, feats)
	}
	return b.Build()
}

// parseFloat reads an empty cell as NaN
func parseFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

func decodeCSV(data []byte) ([]string, []record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("empty csv, %w", ErrMalformed)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%v, %w", err, ErrMalformed)
	}
	var records []record
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%v, %w", err, ErrMalformed)
		}
		rec := make(record, len(header))
		for i, c := range header {
			rec[c] = row[i]
		}
		records = append(records, rec)
	}
	return header, records, nil
}

// decodeJSON reads an array of flat objects. Columns are ordered by name.
func decodeJSON(data []byte) ([]string, []record, error) {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("%v, %w", err, ErrMalformed)
	}
	seen := make(map[string]struct{})
	records := make([]record, len(raw))
	for i, obj := range raw {
		rec := make(record, len(obj))
		for k, v := range obj {
			seen[k] = struct{}{}
			switch val := v.(type) {
			case nil:
				rec[k] = ""
			case string:
				rec[k] = val
			case float64:
				rec[k] = strconv.FormatFloat(val, 'f', -1, 64)
			case bool:
				rec[k] = strconv.FormatBool(val)
			default:
				return nil, nil, fmt.Errorf("row %d column %s is not a scalar, %w", i+1, k, ErrMalformed)
			}
		}
		records[i] = rec
	}
	columns := make([]string, 0, len(seen))
	for k := range seen {
		columns = append(columns, k)
	}
	sort.Strings(columns)
	return columns, records, nil
}

// Tabular is anything that renders as a header and string records
type Tabular interface {
	Header() []string
	Records() [][]string
}

// EncodeTable renders a table in the format. JSON objects carry cells that round trip as
// numbers as numbers and empty cells as null.
func EncodeTable(format Format, t Tabular) ([]byte, error) {
	switch format {
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(t.Header()); err != nil {
			return nil, err
		}
		if err := w.WriteAll(t.Records()); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case FormatJSON:
		header := t.Header()
		records := t.Records()
		out := make([]map[string]any, len(records))
		for i, rec := range records {
			obj := make(map[string]any, len(header))
			for j, c := range header {
				obj[c] = jsonCell(rec[j])
			}
			out[i] = obj
		}
		return json.Marshal(out)
	}
	return nil, fmt.Errorf("%q, %w", format, ErrUnknownFormat)
}

func jsonCell(s string) any {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err == nil && strconv.FormatFloat(v, 'f', -1, 64) == s {
		return v
	}
	return s
}
