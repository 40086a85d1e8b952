package capability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/qiita/qiita-ware/internal/handlers/validator"
)

var (
	ErrUnknownDataType = errors.New("unknown data type")
	ErrUnknownFunction = errors.New("unknown function")
	ErrInvalidOptions  = errors.New("invalid options")
	ErrAlreadyExists   = errors.New("already registered")
)

// Request is what a function runs on: the data type of the job and its
// decoded, validated options.
type Request struct {
	AnalysisID string
	DataType   string
	Options    any
}

// RunFunc executes one job and returns the artifact references it produced.
type RunFunc func(ctx context.Context, req Request) ([]string, error)

// Function is a recognized job function. NewOptions returns a pointer to the
// typed options record, holding its defaults.
type Function struct {
	Name       string
	NewOptions func() any
	Run        RunFunc
}

// Registry enumerates the data types and functions jobs may use.
type Registry struct {
	mu        sync.RWMutex
	dataTypes map[string]struct{}
	functions map[string]Function
	validator *validator.Validator
}

func NewRegistry() *Registry {
	v := validator.NewValidator()
	v.Register(validator.NewOptionsValidationRules()...)

	return &Registry{
		dataTypes: make(map[string]struct{}),
		functions: make(map[string]Function),
		validator: v,
	}
}

func (r *Registry) RegisterDataType(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.dataTypes[name]; found {
		return fmt.Errorf("data type %q: %w", name, ErrAlreadyExists)
	}
	r.dataTypes[name] = struct{}{}
	return nil
}

func (r *Registry) RegisterFunction(fn Function) error {
	if fn.Name == "" || fn.Run == nil {
		return fmt.Errorf("function %q needs a name and a run func", fn.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, found := r.functions[fn.Name]; found {
		return fmt.Errorf("function %q: %w", fn.Name, ErrAlreadyExists)
	}
	r.functions[fn.Name] = fn
	return nil
}

func (r *Registry) DataTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.dataTypes))
	for name := range r.dataTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Functions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.functions))
	for name := range r.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the pair is recognized and decodes options into the typed
// record of the function. Unknown option keys are rejected.
func (r *Registry) Validate(dataType, function string, options map[string]any) (any, error) {
	fn, err := r.lookup(dataType, function)
	if err != nil {
		return nil, err
	}
	return r.decode(fn, options)
}

// Normalize validates the options like Validate and returns the typed record
// flattened back to a map, defaults included, as jobs store it.
func (r *Registry) Normalize(dataType, function string, options map[string]any) (map[string]any, error) {
	opts, err := r.Validate(dataType, function, options)
	if err != nil {
		return nil, err
	}
	normalized := map[string]any{}
	if opts == nil {
		return normalized, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName: "json",
		Result:  &normalized,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(opts); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidOptions, function, err)
	}
	return normalized, nil
}

// Run validates the job again and executes it.
func (r *Registry) Run(ctx context.Context, analysisID, dataType, function string, options map[string]any) ([]string, error) {
	fn, err := r.lookup(dataType, function)
	if err != nil {
		return nil, err
	}
	opts, err := r.decode(fn, options)
	if err != nil {
		return nil, err
	}
	return fn.Run(ctx, Request{AnalysisID: analysisID, DataType: dataType, Options: opts})
}

func (r *Registry) lookup(dataType, function string) (Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, found := r.dataTypes[dataType]; !found {
		return Function{}, fmt.Errorf("%w: %q", ErrUnknownDataType, dataType)
	}
	fn, found := r.functions[function]
	if !found {
		return Function{}, fmt.Errorf("%w: %q", ErrUnknownFunction, function)
	}
	return fn, nil
}

func (r *Registry) decode(fn Function, options map[string]any) (any, error) {
	if fn.NewOptions == nil {
		if len(options) > 0 {
			return nil, fmt.Errorf("%w: %s takes no options", ErrInvalidOptions, fn.Name)
		}
		return nil, nil
	}

	opts := fn.NewOptions()
	if len(options) == 0 {
		return opts, r.validate(fn, opts)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused:      true,
		ZeroFields:       true,
		WeaklyTypedInput: true,
		TagName:          "json",
		Result:           opts,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidOptions, fn.Name, err)
	}
	if err := r.validate(fn, opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func (r *Registry) validate(fn Function, opts any) error {
	if err := r.validator.Struct(opts); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidOptions, fn.Name, err)
	}
	return nil
}
