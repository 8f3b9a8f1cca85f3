package config

import "os"

// Source indicates where a setting value came from.
type Source string

const (
	SourceFlag    Source = "flag"
	SourceEnv     Source = "env"
	SourceFile    Source = "config"
	SourceDefault Source = "default"
)

// Resolved is a setting value together with its origin.
type Resolved struct {
	Value  string
	Source Source
	Name   string // e.g. "GMAIL_CLIENT_ID", "config.ini [oauth] client_id"
}

type provider func() (value, name string)

// resolver picks the first non-empty value from providers in priority order.
type resolver struct {
	providers []struct {
		source Source
		fn     provider
	}
}

func newResolver() *resolver {
	return &resolver{}
}

func (r *resolver) add(source Source, fn provider) *resolver {
	r.providers = append(r.providers, struct {
		source Source
		fn     provider
	}{source, fn})

	return r
}

func (r *resolver) withFlag(value string) *resolver {
	return r.add(SourceFlag, func() (string, string) { return value, "flag" })
}

func (r *resolver) withEnv(name string) *resolver {
	return r.add(SourceEnv, func() (string, string) { return os.Getenv(name), name })
}

func (r *resolver) withFile(value, name string) *resolver {
	return r.add(SourceFile, func() (string, string) { return value, name })
}

func (r *resolver) withDefault(value string) *resolver {
	return r.add(SourceDefault, func() (string, string) { return value, "default" })
}

func (r *resolver) resolve() Resolved {
	for _, p := range r.providers {
		if value, name := p.fn(); value != "" {
			return Resolved{Value: value, Source: p.source, Name: name}
		}
	}

	return Resolved{Source: SourceDefault, Name: "default"}
}
