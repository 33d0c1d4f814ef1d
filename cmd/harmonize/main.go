package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"gonum.org/v1/gonum/mat"

	"harmonize/combat"
	"harmonize/db"
	"harmonize/utils"
)

// Config holds harmonization run configuration
type Config struct {
	DataPath    string
	CovarsPath  string
	OutputPath  string
	ModelFolder string
	ModelName   string
	SmoothTerms []string
	Registry    string
}

func main() {
	_ = godotenv.Load()
	config := parseFlags()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("=== ComBat Harmonization ===\n")
	log.Printf("Data: %s\n", config.DataPath)
	log.Printf("Covariates: %s\n", config.CovarsPath)
	if len(config.SmoothTerms) > 0 {
		log.Printf("Smooth terms: %s\n", strings.Join(config.SmoothTerms, ", "))
	}
	log.Println()

	startTime := time.Now()

	log.Println("Step 1: Loading inputs...")
	data, err := loadMatrixCSV(config.DataPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load data matrix: %v", err)
	}
	covars, err := combat.LoadCovariatesCSV(config.CovarsPath)
	if err != nil {
		log.Fatalf("ERROR: Failed to load covariates: %v", err)
	}
	nSamples, nFeatures := data.Dims()
	log.Printf("Loaded %d samples x %d features\n", nSamples, nFeatures)

	log.Println("Step 2: Estimating harmonization model...")
	model, harmonized, err := combat.Learn(data, covars, config.SmoothTerms, nil)
	if err != nil {
		log.Fatalf("ERROR: Harmonization failed: %v", err)
	}
	log.Printf("Estimated effects for %d sites\n", model.NBatch)

	log.Println("Step 3: Writing harmonized data...")
	if err := writeMatrixCSV(config.OutputPath, harmonized); err != nil {
		log.Fatalf("ERROR: Failed to write harmonized data: %v", err)
	}
	log.Printf("Wrote %s\n", config.OutputPath)

	if config.ModelFolder != "" {
		log.Println("Step 4: Saving model...")
		logger := utils.GetLogger()
		if err := model.Save(config.ModelFolder, logger); err != nil {
			logger.ErrorContext(context.Background(), "Failed to save model.",
				slog.Any("error", xerrors.New(err)))
			os.Exit(1)
		}
		registerModel(config, model, nSamples, nFeatures)
	}

	log.Printf("Done in %.2fs\n", time.Since(startTime).Seconds())
}

func registerModel(config Config, model *combat.Model, nSamples, nFeatures int) {
	client, err := db.NewSQLiteClient(config.Registry)
	if err != nil {
		log.Printf("WARNING: model saved but not registered: %v", err)
		return
	}
	defer client.Close()

	id, err := client.RegisterModel(db.ModelRecord{
		Name:        config.ModelName,
		Folder:      config.ModelFolder,
		NSamples:    nSamples,
		NFeatures:   nFeatures,
		NSites:      model.NBatch,
		SmoothTerms: strings.Join(smoothTermsOf(model), ","),
	})
	if err != nil {
		log.Printf("WARNING: model saved but not registered: %v", err)
		return
	}
	log.Printf("Registered model %s (id=%d) in %s\n", config.ModelName, id, config.Registry)
}

func smoothTermsOf(model *combat.Model) []string {
	if model.Smooth == nil {
		return nil
	}
	return model.Smooth.Terms
}

func parseFlags() Config {
	dataPath := flag.String("data", "", "CSV file with the feature matrix (samples x features, no header)")
	covarsPath := flag.String("covars", "", "CSV file with covariates (header row, must include SITE)")
	outputPath := flag.String("out", "harmonized.csv", "Output CSV for the harmonized matrix")
	modelFolder := flag.String("model", "", "Folder to save model parameters (must not exist; empty to skip)")
	modelName := flag.String("name", "combat", "Model name for the registry")
	smooth := flag.String("smooth", "", "Comma-separated covariate columns to model with smooth terms")
	registry := flag.String("registry", utils.GetEnv("HARMONIZE_REGISTRY", "data/models.db"), "SQLite registry database path")
	flag.Parse()

	if *dataPath == "" || *covarsPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: harmonize -data matrix.csv -covars covars.csv [-out harmonized.csv] [-model folder] [-smooth col1,col2]")
		os.Exit(1)
	}

	var smoothTerms []string
	if *smooth != "" {
		for _, term := range strings.Split(*smooth, ",") {
			smoothTerms = append(smoothTerms, strings.TrimSpace(term))
		}
	}

	return Config{
		DataPath:    *dataPath,
		CovarsPath:  *covarsPath,
		OutputPath:  *outputPath,
		ModelFolder: *modelFolder,
		ModelName:   *modelName,
		SmoothTerms: smoothTerms,
		Registry:    *registry,
	}
}

// loadMatrixCSV reads a headerless numeric CSV into a dense matrix.
func loadMatrixCSV(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty matrix file %s", path)
	}

	rows, cols := len(records), len(records[0])
	m := mat.NewDense(rows, cols, nil)
	for i, record := range records {
		if len(record) != cols {
			return nil, fmt.Errorf("row %d has %d values, expected %d", i+1, len(record), cols)
		}
		for j, cell := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d col %d: %w", i+1, j+1, err)
			}
			m.Set(i, j, v)
		}
	}
	return m, nil
}

func writeMatrixCSV(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	rows, cols := m.Dims()
	record := make([]string, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			record[j] = strconv.FormatFloat(m.At(i, j), 'g', -1, 64)
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}
