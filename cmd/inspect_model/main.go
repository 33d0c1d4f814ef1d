package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"

	"harmonize/combat"
)

func main() {
	folder := flag.String("model", "", "Saved model folder to inspect")
	flag.Parse()

	if *folder == "" {
		fmt.Fprintln(os.Stderr, "Usage: inspect_model -model folder")
		os.Exit(1)
	}

	model, err := combat.LoadModel(*folder)
	if err != nil {
		log.Fatalf("ERROR: Failed to load model: %v", err)
	}

	fmt.Printf("Model folder: %s\n\n", *folder)
	printVector("var_pooled", model.VarPooled)
	printVector("grand_mean", model.GrandMean)
	printMatrix("B_hat", model.BHat)
	printMatrix("gamma_star", model.GammaStar)
	printMatrix("delta_star", model.DeltaStar)
}

func printVector(name string, v []float64) {
	min, max := math.Inf(1), math.Inf(-1)
	sum := 0.0
	for _, x := range v {
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
		sum += x
	}
	fmt.Printf("%-12s len=%-6d min=%-12.6g max=%-12.6g mean=%.6g\n",
		name, len(v), min, max, sum/float64(len(v)))
}

func printMatrix(name string, m *mat.Dense) {
	r, c := m.Dims()
	min, max := math.Inf(1), math.Inf(-1)
	sum := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			x := m.At(i, j)
			if x < min {
				min = x
			}
			if x > max {
				max = x
			}
			sum += x
		}
	}
	fmt.Printf("%-12s shape=%dx%-4d min=%-12.6g max=%-12.6g mean=%.6g\n",
		name, r, c, min, max, sum/float64(r*c))
}
