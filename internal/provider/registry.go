package provider

import (
	"context"
	"maps"
	"slices"

	"github.com/openledger/imageledger/internal/conf"
	"github.com/openledger/imageledger/internal/errors"
	"github.com/openledger/imageledger/internal/httpclient"
	"github.com/openledger/imageledger/internal/license"
	"github.com/openledger/imageledger/internal/logger"
)

// TagSource lists known tag names. The wikimedia handler searches for them.
type TagSource interface {
	ListNames(ctx context.Context) ([]string, error)
}

// Deps is everything a handler constructor may use.
type Deps struct {
	Settings conf.ProvidersSettings
	Client   *httpclient.Client
	Logger   logger.Logger
	Sleeper  Sleeper
	Tags     TagSource
	Licenses *license.Table
}

// withDefaults fills unset dependencies.
func (d Deps) withDefaults() Deps {
	if d.Client == nil {
		d.Client = httpclient.New(nil)
	}
	if d.Logger == nil {
		d.Logger = logger.NewSlogLogger(nil, logger.LogLevelError, nil)
	}
	if d.Sleeper == nil {
		d.Sleeper = TimerSleeper{}
	}
	if d.Licenses == nil {
		d.Licenses = DefaultLicenseTable()
	}
	return d
}

// Constructor builds a handler.
type Constructor func(Deps) (Handler, error)

// Registry maps provider names to constructors.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

// NewDefaultRegistry returns a registry with every built-in provider.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(FlickrName, NewFlickr)
	r.Register(FiveHundredPxName, NewFiveHundredPx)
	r.Register(RijksName, NewRijks)
	r.Register(MetName, NewMet)
	r.Register(NYPLName, NewNYPL)
	r.Register(EuropeanaName, NewEuropeana)
	r.Register(WikimediaName, NewWikimedia)
	return r
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, c Constructor) {
	r.constructors[name] = c
}

// New builds the named handler.
func (r *Registry) New(name string, deps Deps) (Handler, error) {
	c, ok := r.constructors[name]
	if !ok {
		return nil, errors.New(ErrUnknownProvider).
			Component("provider").
			Category(errors.CategoryValidation).
			Context("provider", name).
			Context("known", r.Names()).
			Build()
	}
	return c(deps.withDefaults())
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.constructors))
}

// DefaultLicenseTable holds the license mappings of the built-in providers.
func DefaultLicenseTable() *license.Table {
	return license.NewTable(
		flickrLicenses,
		fiveHundredPxLicenses,
		publicDomainMapping(RijksName),
		publicDomainMapping(MetName),
		publicDomainMapping(NYPLName),
		publicDomainMapping(WikimediaName),
	)
}

// publicDomainMapping is the mapping of providers that only publish CC0.
func publicDomainMapping(provider string) license.Mapping {
	return license.Mapping{
		Provider: provider,
		Native:   map[license.Code]string{license.CC0: string(license.CC0)},
		Version:  "1.0",
	}
}
