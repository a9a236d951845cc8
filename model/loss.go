package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrUnsupportedLoss is returned for losses the regression loops cannot train with.
var ErrUnsupportedLoss = errors.New("unsupported loss")

// Criterion scores a prediction against its target and returns the gradient
// of the loss with respect to the prediction.
type Criterion interface {
	Name() string
	Loss(pred, target *Tensor) (float64, *Tensor, error)
}

// NewCriterion returns the criterion registered under name ("mse", "l1").
// "nll" is recognized but refused: the duration and acoustic targets are
// real valued.
func NewCriterion(name string) (Criterion, error) {
	switch strings.ToLower(name) {
	case "", "mse":
		return MSE{}, nil
	case "l1", "mae":
		return L1{}, nil
	case "nll":
		return nil, fmt.Errorf("%w: nll", ErrUnsupportedLoss)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLoss, name)
	}
}

// MSE is the mean squared error over every element.
type MSE struct{}

func (MSE) Name() string { return "mse" }

func (MSE) Loss(pred, target *Tensor) (float64, *Tensor, error) {
	if err := checkShapes(pred, target); err != nil {
		return 0, nil, err
	}
	n := float64(len(pred.Data))
	grad := NewTensor(pred.T, pred.B, pred.D)
	sum := 0.0
	for i, p := range pred.Data {
		d := p - target.Data[i]
		sum += d * d
		grad.Data[i] = 2 * d / n
	}
	return sum / n, grad, nil
}

// L1 is the mean absolute error over every element.
type L1 struct{}

func (L1) Name() string { return "l1" }

func (L1) Loss(pred, target *Tensor) (float64, *Tensor, error) {
	if err := checkShapes(pred, target); err != nil {
		return 0, nil, err
	}
	n := float64(len(pred.Data))
	grad := NewTensor(pred.T, pred.B, pred.D)
	sum := 0.0
	for i, p := range pred.Data {
		d := p - target.Data[i]
		sum += math.Abs(d)
		switch {
		case d > 0:
			grad.Data[i] = 1 / n
		case d < 0:
			grad.Data[i] = -1 / n
		}
	}
	return sum / n, grad, nil
}

func checkShapes(pred, target *Tensor) error {
	if !pred.SameShape(target) {
		return fmt.Errorf("loss: prediction %v and target %v differ in shape", pred, target)
	}
	if len(pred.Data) == 0 {
		return fmt.Errorf("loss: empty prediction")
	}
	return nil
}
