package loader

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// CSVLoader reads point records from a flat `key,lng,lat,properties`
// CSV, the common shape for POI/address bulk imports.
type CSVLoader struct{}

func NewCSVLoader() *CSVLoader {
	return &CSVLoader{}
}

func (c *CSVLoader) Load(filename string) ([]Record, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open CSV file: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("CSV file is empty")
	}

	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec, err := c.parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("error parsing row %d: %w", i+2, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *CSVLoader) parseRow(row []string) (Record, error) {
	if len(row) < 3 {
		return Record{}, fmt.Errorf("expected at least 3 columns (key,lng,lat[,properties]), got %d", len(row))
	}

	lng, err := strconv.ParseFloat(strings.TrimSpace(row[1]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid lng: %w", err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(row[2]), 64)
	if err != nil {
		return Record{}, fmt.Errorf("invalid lat: %w", err)
	}

	rec := Record{Geometry: orb.Point{lng, lat}}
	if key := strings.TrimSpace(row[0]); key != "" {
		rec.Key = &key
	}
	if len(row) > 3 && strings.TrimSpace(row[3]) != "" {
		props := strings.TrimSpace(row[3])
		if !json.Valid([]byte(props)) {
			return Record{}, fmt.Errorf("invalid properties JSON: %s", props)
		}
		rec.Properties = json.RawMessage(props)
	} else {
		rec.Properties = json.RawMessage(`{}`)
	}
	return rec, nil
}
