package combat

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"harmonize/utils"
)

// Save persists the model parameters as one NumPy .npy file per field in a
// new folder. The folder must not already exist; nothing is written when it
// does. The large fit-time arrays (design, standardized data,
// standardization mean) and the batch count are not saved.
func (m *Model) Save(folder string, logger *slog.Logger) error {
	if logger == nil {
		logger = utils.GetLogger()
	}
	if _, err := os.Stat(folder); err == nil {
		return fmt.Errorf("model folder already exists: %s (change name or delete to save)", folder)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to check model folder %s: %w", folder, err)
	}
	if err := utils.CreateFolder(folder); err != nil {
		return err
	}

	fields := []struct {
		name  string
		value interface{}
	}{
		{"var_pooled", m.VarPooled},
		{"B_hat", m.BHat},
		{"grand_mean", m.GrandMean},
		{"gamma_star", m.GammaStar},
		{"delta_star", m.DeltaStar},
	}
	for _, field := range fields {
		path := filepath.Join(folder, field.name+".npy")
		if err := writeNpy(path, field.value); err != nil {
			return fmt.Errorf("failed to save model object %s: %w", field.name, err)
		}
		fi, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("failed to stat saved model object %s: %w", field.name, err)
		}
		logger.Info("saved model object",
			"name", field.name,
			"size_mb", float64(fi.Size())/1e6)
	}
	return nil
}

// SavedModel is the on-disk subset of a harmonization model read back from
// a folder written by Save.
type SavedModel struct {
	VarPooled []float64
	BHat      *mat.Dense
	GrandMean []float64
	GammaStar *mat.Dense
	DeltaStar *mat.Dense
}

// LoadModel reads the .npy files written by Save.
func LoadModel(folder string) (*SavedModel, error) {
	sm := &SavedModel{BHat: &mat.Dense{}, GammaStar: &mat.Dense{}, DeltaStar: &mat.Dense{}}
	if err := readNpy(filepath.Join(folder, "var_pooled.npy"), &sm.VarPooled); err != nil {
		return nil, err
	}
	if err := readNpy(filepath.Join(folder, "B_hat.npy"), sm.BHat); err != nil {
		return nil, err
	}
	if err := readNpy(filepath.Join(folder, "grand_mean.npy"), &sm.GrandMean); err != nil {
		return nil, err
	}
	if err := readNpy(filepath.Join(folder, "gamma_star.npy"), sm.GammaStar); err != nil {
		return nil, err
	}
	if err := readNpy(filepath.Join(folder, "delta_star.npy"), sm.DeltaStar); err != nil {
		return nil, err
	}
	return sm, nil
}

func writeNpy(path string, value interface{}) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := npyio.Write(f, value); err != nil {
		return err
	}
	return f.Close()
}

func readNpy(path string, dst interface{}) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open model file: %w", err)
	}
	defer f.Close()
	if err := npyio.Read(f, dst); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	return nil
}
