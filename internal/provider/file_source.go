package provider

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tikcluster/tikwatch/internal/types"
)

// Dataset is the YAML document read by FileSource and loaded by import
type Dataset struct {
	Usage        types.UsageReport    `yaml:"usage"`
	Theses       []types.ThesisRecord `yaml:"theses"`
	Users        []types.UserInfo     `yaml:"users"`
	Reservations []string             `yaml:"reservations"`
}

// LoadDataset reads and parses a dataset file
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}
	if ds.Usage.Snapshots == nil {
		ds.Usage.Snapshots = []types.UsageSnapshot{}
	}
	if ds.Theses == nil {
		ds.Theses = []types.ThesisRecord{}
	}
	if ds.Users == nil {
		ds.Users = []types.UserInfo{}
	}
	if ds.Reservations == nil {
		ds.Reservations = []string{}
	}
	return &ds, nil
}

// FileSource serves a dataset file for development and demos.
// The file is re-read on every call so edits show up on the next refresh.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (f *FileSource) Name() string {
	return types.SourceFile
}

func (f *FileSource) Close() error {
	return nil
}

func (f *FileSource) load(ctx context.Context, what string) (*Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, &MissingDataError{Source: f.Name(), What: what, Err: err}
	}
	ds, err := LoadDataset(f.path)
	if err != nil {
		return nil, &MissingDataError{Source: f.Name(), What: what, Err: err}
	}
	return ds, nil
}

func (f *FileSource) CurrentUsage(ctx context.Context) (*types.UsageReport, error) {
	ds, err := f.load(ctx, "usage")
	if err != nil {
		return nil, err
	}
	return &ds.Usage, nil
}

func (f *FileSource) Theses(ctx context.Context) ([]types.ThesisRecord, error) {
	ds, err := f.load(ctx, "theses")
	if err != nil {
		return nil, err
	}
	return ds.Theses, nil
}

func (f *FileSource) Users(ctx context.Context) ([]types.UserInfo, error) {
	ds, err := f.load(ctx, "users")
	if err != nil {
		return nil, err
	}
	return ds.Users, nil
}

func (f *FileSource) ReservationLines(ctx context.Context) ([]string, error) {
	ds, err := f.load(ctx, "reservations")
	if err != nil {
		return nil, err
	}
	return ds.Reservations, nil
}
