package gdal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
	"github.com/custodia-labs/gdb2spatialite/internal/logger"
)

var _ driven.SourceOpener = (*Inspector)(nil)

// Inspector reads source schemas through `ogrinfo -json`.
type Inspector struct {
	ogrinfo string
}

// NewInspector creates an inspector using the given ogrinfo executable.
func NewInspector(ogrinfoPath string) *Inspector {
	if ogrinfoPath == "" {
		ogrinfoPath = "ogrinfo"
	}
	return &Inspector{ogrinfo: ogrinfoPath}
}

// Open runs ogrinfo once over the whole container and returns an
// immutable handle on its report.
func (i *Inspector) Open(ctx context.Context, path string) (driven.SourceHandle, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}

	args := []string{"-ro", "-json", "-so", "-al", path}
	logger.Debug("Running %s %s", i.ogrinfo, strings.Join(args, " "))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, i.ogrinfo, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", domain.ErrBackendUnavailable, i.ogrinfo, err)
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, fmt.Errorf("%w: ogrinfo %s: %w: %s", domain.ErrSourceUnavailable, path, err, msg)
	}

	h, err := ParseInfo(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrSourceUnavailable, path, err)
	}
	logger.Debug("Read %d layer(s) and %d coded domain(s) from %s", len(h.layers), len(h.domains), path)
	return h, nil
}

// info mirrors the parts of ogrinfo's JSON report that are used.
type info struct {
	Layers  []layerInfo           `json:"layers"`
	Domains map[string]domainInfo `json:"domains"`
}

type layerInfo struct {
	Name           string                     `json:"name"`
	FeatureCount   *int64                     `json:"featureCount"`
	FIDColumnName  string                     `json:"fidColumnName"`
	GeometryFields []json.RawMessage          `json:"geometryFields"`
	Fields         []fieldInfo                `json:"fields"`
	Metadata       map[string]json.RawMessage `json:"metadata"`
}

type fieldInfo struct {
	Name             string `json:"name"`
	AlternativeName  string `json:"alternativeName"`
	DomainName       string `json:"domainName"`
	UniqueConstraint bool   `json:"uniqueConstraint"`
}

type domainInfo struct {
	Type        string          `json:"type"`
	CodedValues json.RawMessage `json:"codedValues"`
}

// Handle is a parsed ogrinfo report. It never changes after parsing.
type Handle struct {
	layers  []domain.LayerDescriptor
	schemas map[string]*domain.LayerSchema
	domains map[string]map[int64]string
}

var _ driven.SourceHandle = (*Handle)(nil)

// ParseInfo decodes an `ogrinfo -json` report.
func ParseInfo(data []byte) (*Handle, error) {
	var doc info
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decoding ogrinfo report: %w", err)
	}

	h := &Handle{
		layers:  make([]domain.LayerDescriptor, 0, len(doc.Layers)),
		schemas: make(map[string]*domain.LayerSchema, len(doc.Layers)),
		domains: make(map[string]map[int64]string),
	}

	for _, l := range doc.Layers {
		desc := domain.LayerDescriptor{
			Name:        l.Name,
			HasGeometry: len(l.GeometryFields) > 0,
		}
		if l.FeatureCount != nil && *l.FeatureCount > 0 {
			desc.FeatureCount = *l.FeatureCount
		}

		schema := &domain.LayerSchema{
			Layer:          desc,
			FIDColumn:      l.FIDColumnName,
			Fields:         make([]domain.FieldDef, 0, len(l.Fields)),
			PrimaryKeyHint: primaryKeyHint(l.Metadata),
		}
		var items map[string]string
		for i, f := range l.Fields {
			alias := f.AlternativeName
			if alias == "" {
				if items == nil {
					items = metadataItems(l.Metadata)
				}
				alias = metadataAlias(items, i, f.Name)
			}
			schema.Fields = append(schema.Fields, domain.FieldDef{
				Name:       f.Name,
				Alias:      alias,
				DomainName: f.DomainName,
				Unique:     f.UniqueConstraint,
			})
		}

		h.layers = append(h.layers, desc)
		h.schemas[l.Name] = schema
	}

	for name, d := range doc.Domains {
		if d.Type != "" && d.Type != "coded" {
			continue
		}
		values, err := codedValues(d.CodedValues)
		if err != nil {
			logger.Debug("Skipping domain %s: %v", name, err)
			continue
		}
		if len(values) > 0 {
			h.domains[name] = values
		}
	}

	return h, nil
}

// codedValues accepts both the object form {"1": "Name"} and the array
// form [{"code": "1", "name": "Name"}].
func codedValues(raw json.RawMessage) (map[int64]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var obj map[string]*string
	if err := json.Unmarshal(raw, &obj); err == nil {
		out := make(map[int64]string, len(obj))
		for code, name := range obj {
			desc := code
			if name != nil {
				desc = *name
			}
			out[domain.ParseDomainCode(code)] = desc
		}
		return out, nil
	}

	// Codes are numbers or strings depending on the field type.
	var list []struct {
		Code json.RawMessage `json:"code"`
		Name string          `json:"name"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("unexpected codedValues: %w", err)
	}
	out := make(map[int64]string, len(list))
	for _, cv := range list {
		code := string(cv.Code)
		var text string
		if err := json.Unmarshal(cv.Code, &text); err == nil {
			code = text
		}
		out[domain.ParseDomainCode(code)] = cv.Name
	}
	return out, nil
}

// metadataItems merges the string items of every metadata domain. The
// default domain wins, then domains in name order.
func metadataItems(md map[string]json.RawMessage) map[string]string {
	names := make([]string, 0, len(md))
	for name := range md {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string)
	for _, name := range names {
		var items map[string]string
		if err := json.Unmarshal(md[name], &items); err != nil {
			continue
		}
		for k, v := range items {
			if _, ok := out[k]; !ok {
				out[k] = v
			}
		}
	}
	return out
}

// metadataAlias finds a field alias stored as a layer metadata item.
// index is the field's zero-based position.
func metadataAlias(items map[string]string, index int, field string) string {
	for _, key := range []string{
		fmt.Sprintf("FIELD_%d_ALIAS", index),
		field + "_ALIAS",
		"ALIAS_" + field,
		fmt.Sprintf("FIELD_ALIAS_%d", index),
	} {
		if v := strings.TrimSpace(items[key]); v != "" {
			return v
		}
	}
	return ""
}

// primaryKeyHint looks for a PRIMARY_KEY item in any string metadata domain.
func primaryKeyHint(md map[string]json.RawMessage) []string {
	domains := make([]string, 0, len(md))
	for name := range md {
		domains = append(domains, name)
	}
	sort.Strings(domains)

	for _, name := range domains {
		var items map[string]string
		if err := json.Unmarshal(md[name], &items); err != nil {
			continue
		}
		keys := make([]string, 0, len(items))
		for k := range items {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !strings.Contains(strings.ToUpper(k), "PRIMARY_KEY") {
				continue
			}
			var cols []string
			for _, c := range strings.Split(items[k], ",") {
				if c = strings.TrimSpace(c); c != "" {
					cols = append(cols, c)
				}
			}
			if len(cols) > 0 {
				return cols
			}
		}
	}
	return nil
}

// Layers returns the layers in report order.
func (h *Handle) Layers(_ context.Context) ([]domain.LayerDescriptor, error) {
	out := make([]domain.LayerDescriptor, len(h.layers))
	copy(out, h.layers)
	return out, nil
}

// Schema returns the schema of a layer.
func (h *Handle) Schema(_ context.Context, layer string) (*domain.LayerSchema, error) {
	s, ok := h.schemas[layer]
	if !ok {
		return nil, fmt.Errorf("%w: layer %q", domain.ErrNotFound, layer)
	}
	return s, nil
}

// CodedDomains returns the coded-value domains listed in the report.
func (h *Handle) CodedDomains(_ context.Context) (map[string]map[int64]string, error) {
	return h.domains, nil
}

// Close is a no-op: the report is held in memory.
func (h *Handle) Close() error {
	return nil
}
