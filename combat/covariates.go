package combat

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// SiteColumn is the required name of the site/batch label column.
const SiteColumn = "SITE"

// Covariates is the per-sample covariate table: one label-valued SITE column
// plus zero or more numeric columns, kept in insertion order. All numeric
// covariates must already be encoded as floats; categorical covariates other
// than SITE are not supported.
type Covariates struct {
	n       int
	names   []string
	labels  map[string][]string
	numeric map[string][]float64
}

// NewCovariates creates an empty covariate table for n samples.
func NewCovariates(n int) *Covariates {
	return &Covariates{
		n:       n,
		labels:  make(map[string][]string),
		numeric: make(map[string][]float64),
	}
}

// AddLabels appends a label-valued column (used for SITE).
func (c *Covariates) AddLabels(name string, values []string) error {
	if err := c.checkAdd(name, len(values)); err != nil {
		return err
	}
	c.names = append(c.names, name)
	c.labels[name] = append([]string(nil), values...)
	return nil
}

// AddNumeric appends a numeric covariate column.
func (c *Covariates) AddNumeric(name string, values []float64) error {
	if err := c.checkAdd(name, len(values)); err != nil {
		return err
	}
	c.names = append(c.names, name)
	c.numeric[name] = append([]float64(nil), values...)
	return nil
}

func (c *Covariates) checkAdd(name string, length int) error {
	if length != c.n {
		return fmt.Errorf("column %s has %d values, table has %d samples", name, length, c.n)
	}
	for _, existing := range c.names {
		if existing == name {
			return fmt.Errorf("duplicate column %s", name)
		}
	}
	return nil
}

// Len returns the number of samples.
func (c *Covariates) Len() int { return c.n }

// Names returns the column names in table order.
func (c *Covariates) Names() []string { return append([]string(nil), c.names...) }

// Numeric returns a numeric column by name.
func (c *Covariates) Numeric(name string) ([]float64, bool) {
	v, ok := c.numeric[name]
	return v, ok
}

// Labels returns a label column by name.
func (c *Covariates) Labels(name string) ([]string, bool) {
	v, ok := c.labels[name]
	return v, ok
}

// ColumnIndex returns the position of name in the table, or -1.
func (c *Covariates) ColumnIndex(name string) int {
	for i, n := range c.names {
		if n == name {
			return i
		}
	}
	return -1
}

// numericColumns returns the non-SITE column names in table order together
// with their table positions.
func (c *Covariates) numericColumns() (names []string, positions []int) {
	for i, name := range c.names {
		if name == SiteColumn {
			continue
		}
		names = append(names, name)
		positions = append(positions, i)
	}
	return names, positions
}

// LoadCovariatesCSV reads a covariate table from a headered CSV file. The
// SITE column is kept as labels; every other column must parse as float.
func LoadCovariatesCSV(path string) (*Covariates, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open covariates file: %w", err)
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse covariates file %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("covariates file %s has no data rows", path)
	}

	header := records[0]
	rows := records[1:]
	cov := NewCovariates(len(rows))
	for j, name := range header {
		if name == SiteColumn {
			sites := make([]string, len(rows))
			for i, row := range rows {
				sites[i] = row[j]
			}
			if err := cov.AddLabels(name, sites); err != nil {
				return nil, err
			}
			continue
		}
		values := make([]float64, len(rows))
		for i, row := range rows {
			v, err := strconv.ParseFloat(row[j], 64)
			if err != nil {
				return nil, fmt.Errorf("column %s row %d: %w", name, i+1, err)
			}
			values[i] = v
		}
		if err := cov.AddNumeric(name, values); err != nil {
			return nil, err
		}
	}
	return cov, nil
}

// batchInfo captures everything derived from the SITE column: ordered site
// codes, the original label per code, per-site sample counts and sample
// indices. The index lists partition 0..n-1 exhaustively and disjointly.
type batchInfo struct {
	labels  []string // sorted unique site labels; code = slice index
	counts  []int
	total   int
	indices [][]int
}

// newBatchInfo re-encodes site labels to contiguous 0-based codes in sorted
// label order and groups sample indices per site.
func newBatchInfo(sites []string) *batchInfo {
	seen := make(map[string]bool, len(sites))
	var labels []string
	for _, s := range sites {
		if !seen[s] {
			seen[s] = true
			labels = append(labels, s)
		}
	}
	sort.Strings(labels)

	code := make(map[string]int, len(labels))
	for i, l := range labels {
		code[l] = i
	}

	info := &batchInfo{
		labels:  labels,
		counts:  make([]int, len(labels)),
		total:   len(sites),
		indices: make([][]int, len(labels)),
	}
	for i, s := range sites {
		b := code[s]
		info.counts[b]++
		info.indices[b] = append(info.indices[b], i)
	}
	return info
}

// nBatch returns the number of distinct sites.
func (b *batchInfo) nBatch() int { return len(b.labels) }
