package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widgetConfig struct {
	Name string `validate:"required"`
	Size int    `validate:"min=1"`
}

func TestStructSchemaAcceptsValidValue(t *testing.T) {
	s := Struct[widgetConfig]()
	out, err := s.Parse(widgetConfig{Name: "gear", Size: 3})
	require.NoError(t, err)
	assert.Equal(t, widgetConfig{Name: "gear", Size: 3}, out)
}

func TestStructSchemaAcceptsPointer(t *testing.T) {
	s := Struct[widgetConfig]()
	cfg := &widgetConfig{Name: "gear", Size: 3}
	out, err := s.Parse(cfg)
	require.NoError(t, err)
	assert.Equal(t, *cfg, out)
}

func TestStructSchemaRejectsMissingRequiredField(t *testing.T) {
	s := Struct[widgetConfig]()
	_, err := s.Parse(widgetConfig{Size: 3})
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Path)
}

func TestStructSchemaRejectsWrongType(t *testing.T) {
	s := Struct[widgetConfig]()
	_, err := s.Parse("not a widget")
	require.Error(t, err)
}

func TestFuncSchemaAdaptsPlainFunction(t *testing.T) {
	var s Schema = Func(func(input any) (any, error) {
		return input, nil
	})
	out, err := s.Parse(42)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}
