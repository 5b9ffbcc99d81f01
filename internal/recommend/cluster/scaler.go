// Sokoni - Bulk-Purchase Recommendation Engine for Informal Market Traders
// Copyright 2026 Sokoni Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/sokonilabs/sokoni

package cluster

import "gonum.org/v1/gonum/stat"

// Scaler standardizes features to zero mean and unit variance. It is
// fitted once per training cycle and persisted inside the model so
// Predict applies the exact same transform.
//
// Fields are exported for gob serialization.
type Scaler struct {
	// Mean is the per-column mean.
	Mean []float64

	// Std is the per-column standard deviation. Zero-variance columns
	// get 1 so the transform is the identity for them.
	Std []float64
}

// FitScaler computes column statistics over the sample matrix.
func FitScaler(samples [][]float64) *Scaler {
	if len(samples) == 0 {
		return &Scaler{}
	}
	dims := len(samples[0])
	s := &Scaler{
		Mean: make([]float64, dims),
		Std:  make([]float64, dims),
	}

	col := make([]float64, len(samples))
	for d := 0; d < dims; d++ {
		for i, row := range samples {
			col[i] = row[d]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || len(samples) < 2 {
			std = 1
		}
		s.Mean[d] = mean
		s.Std[d] = std
	}
	return s
}

// Transform standardizes every row, returning a new matrix.
func (s *Scaler) Transform(samples [][]float64) [][]float64 {
	out := make([][]float64, len(samples))
	for i, row := range samples {
		out[i] = s.TransformPoint(row)
	}
	return out
}

// TransformPoint standardizes one point, returning a new slice.
func (s *Scaler) TransformPoint(point []float64) []float64 {
	out := make([]float64, len(point))
	for d, v := range point {
		if d >= len(s.Mean) {
			out[d] = v
			continue
		}
		out[d] = (v - s.Mean[d]) / s.Std[d]
	}
	return out
}
