package main

import (
	"context"

	"github.com/banshee-data/convlink/internal/client"
	"github.com/banshee-data/convlink/internal/converter"
)

// localOperator drives a controller in this process.
type localOperator struct {
	*converter.Controller
}

func (l localOperator) SetOffset(_ context.Context, offset int) error {
	l.Controller.SetOffset(offset)
	return nil
}

func (l localOperator) Setpoint(context.Context) (converter.Setpoint, error) {
	return l.Controller.Setpoint(), nil
}

var (
	_ Operator = localOperator{}
	_ Operator = (*client.Client)(nil)
)
