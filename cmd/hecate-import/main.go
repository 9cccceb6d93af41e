// Command hecate-import bulk-loads features from a CSV or GeoJSON file,
// validating each record up front and submitting each as a create mutation
// inside a single delta opened for the whole import.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mapbox/hecate-go/internal/config"
	"github.com/mapbox/hecate-go/internal/delta"
	"github.com/mapbox/hecate-go/internal/feature"
	"github.com/mapbox/hecate-go/internal/loader"
	"github.com/mapbox/hecate-go/internal/schema"
	"github.com/mapbox/hecate-go/internal/store"
)

func main() {
	var (
		csvFile    = flag.String("csv", "", "Path to CSV file to import (key,lng,lat[,properties])")
		jsonFile   = flag.String("json", "", "Path to GeoJSON FeatureCollection file to import")
		message    = flag.String("message", "bulk import", "Commit message recorded on the import delta")
		uid        = flag.Int64("uid", 1, "Author uid recorded on the import delta")
		schemaPath = flag.String("schema", os.Getenv("SCHEMA_PATH"), "Path to the properties JSON-Schema, if enforced")
	)
	flag.Parse()

	if *csvFile == "" && *jsonFile == "" {
		log.Fatal("one of -csv or -json is required")
	}

	cfg := config.Load()
	pools, err := store.Open(cfg.WriteDSN(), nil, cfg.WriteDSN())
	if err != nil {
		log.Fatalf("failed to open database pools: %v", err)
	}
	defer pools.Close()

	var validator feature.SchemaValidator
	if *schemaPath != "" {
		v, err := schema.Compile(*schemaPath)
		if err != nil {
			log.Fatalf("failed to compile properties schema: %v", err)
		}
		validator = v
	}

	var records []loader.Record
	switch {
	case *csvFile != "":
		log.Printf("loading CSV import from %s", *csvFile)
		records, err = loader.NewCSVLoader().Load(*csvFile)
	case *jsonFile != "":
		log.Printf("loading GeoJSON import from %s", *jsonFile)
		records, err = loader.NewJSONLoader().Load(*jsonFile)
	}
	if err != nil {
		log.Fatalf("failed to load records: %v", err)
	}

	validRecords, err := validateRecords(records)
	if err != nil {
		log.Fatalf("aborting import: %v", err)
	}

	n, err := runImport(pools, feature.New(validator), validRecords, *uid, *message)
	if err != nil {
		log.Fatalf("import failed: %v", err)
	}
	log.Printf("imported %d features from %s", n, importSource(*csvFile, *jsonFile))
}

func importSource(csvFile, jsonFile string) string {
	if csvFile != "" {
		return filepath.Base(csvFile)
	}
	return filepath.Base(jsonFile)
}

// validateRecords runs every record through the validator up front so
// one malformed row in a large batch does not abort a half-committed
// transaction.
func validateRecords(records []loader.Record) ([]loader.Record, error) {
	v := loader.NewValidator()
	var bad []string
	for i, rec := range records {
		if err := v.Validate(rec); err != nil {
			bad = append(bad, fmt.Sprintf("row %d: %v", i+1, err))
		}
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("%d invalid record(s):\n%s", len(bad), strings.Join(bad, "\n"))
	}
	return records, nil
}

// runImport opens one delta and creates every record inside it,
// mirroring the write pipeline the HTTP batch endpoint uses.
func runImport(pools *store.Pools, features *feature.Engine, records []loader.Record, uid int64, message string) (int, error) {
	ctx := context.Background()
	tx, err := pools.Write.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	deltas := delta.New()
	d, err := deltas.Open(ctx, tx, uid, map[string]string{"message": message})
	if err != nil {
		return 0, err
	}

	affected := make([]int64, 0, len(records))
	for _, rec := range records {
		f := &feature.Feature{
			Action:     feature.ActionCreate,
			Key:        rec.Key,
			Geometry:   rec.Geometry,
			Properties: rec.Properties,
		}
		result, err := features.Action(ctx, tx, f, d.ID, false)
		if err != nil {
			return 0, err
		}
		if result.NewID != nil {
			affected = append(affected, *result.NewID)
		}
	}

	if err := deltas.RecordAffected(ctx, tx, d.ID, affected); err != nil {
		return 0, err
	}
	if err := deltas.Finalize(ctx, tx, d.ID); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(affected), nil
}
