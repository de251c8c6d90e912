package filegdb

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/custodia-labs/gdb2spatialite/internal/core/domain"
	"github.com/custodia-labs/gdb2spatialite/internal/core/ports/driven"
	"github.com/custodia-labs/gdb2spatialite/internal/logger"
)

const (
	// ItemsTable is the file holding the GDB_Items system table.
	ItemsTable = "a00000004.gdbtable"

	// minScore is the score a scanned table needs to count as a catalog.
	minScore = 20

	// sampleSize is how much of a large table is read when scoring it.
	sampleSize = 1 << 20

	// fullScanLimit is the size below which a table is scored in full.
	fullScanLimit = 10 << 20
)

var (
	domainBlock = regexp.MustCompile(`(?is)<GPCodedValueDomain2?[\s>].*?</GPCodedValueDomain2?>`)

	// Used when a block is not well-formed enough for the XML decoder.
	domainNameTag = regexp.MustCompile(`(?is)<DomainName[^>]*>([^<]+)</DomainName>`)
	codedValueTag = regexp.MustCompile(`(?is)<CodedValue[\s>].*?</CodedValue>`)
	codeTag       = regexp.MustCompile(`(?is)<Code[^>]*>([^<]+)</Code>`)
	nameTag       = regexp.MustCompile(`(?is)<Name[^>]*>([^<]+)</Name>`)
)

// indicators weight markers that appear in domain definitions.
var indicators = []struct {
	marker string
	points int
}{
	{"GPCodedValueDomain2", 10},
	{"<DomainName>", 5},
	{"<CodedValue", 3},
	{"<Code>", 2},
	{"<Name>", 2},
}

var _ driven.DomainCatalogParser = (*Parser)(nil)

// Parser reads coded-value domains from a File Geodatabase directory.
type Parser struct{}

// NewParser creates a new parser.
func NewParser() *Parser {
	return &Parser{}
}

// ParseDomains reads the domain catalog of the geodatabase at sourcePath.
// The GDB_Items table is tried first; otherwise every table is scored by
// domain markers and the best one above the threshold is used.
func (p *Parser) ParseDomains(ctx context.Context, sourcePath string) (map[string]map[int64]string, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMetadataUnavailable, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a geodatabase directory", domain.ErrMetadataUnavailable, sourcePath)
	}

	items := filepath.Join(sourcePath, ItemsTable)
	if data, err := os.ReadFile(items); err == nil {
		if domains := ParseCatalog(data); len(domains) > 0 {
			logger.Debug("Loaded %d domain(s) from %s", len(domains), ItemsTable)
			return domains, nil
		}
	}

	file, err := p.findCatalog(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMetadataUnavailable, err)
	}
	domains := ParseCatalog(data)
	if len(domains) == 0 {
		return nil, fmt.Errorf("%w: no domain definitions in %s", domain.ErrMetadataUnavailable, filepath.Base(file))
	}
	logger.Debug("Loaded %d domain(s) from %s", len(domains), filepath.Base(file))
	return domains, nil
}

func (p *Parser) findCatalog(ctx context.Context, dir string) (string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.gdbtable"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrMetadataUnavailable, err)
	}
	sort.Strings(files)

	best, bestScore := "", 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		score, err := scoreFile(f)
		if err != nil {
			logger.Debug("Skipping %s: %v", filepath.Base(f), err)
			continue
		}
		if score > minScore && score > bestScore {
			best, bestScore = f, score
			logger.Debug("Domain catalog candidate %s (score %d)", filepath.Base(f), score)
		}
	}

	if best == "" {
		return "", fmt.Errorf("%w: no domain catalog in %s", domain.ErrMetadataUnavailable, dir)
	}
	return best, nil
}

// scoreFile rates how likely a table is to hold domain definitions.
// Small tables are rated by their number of complete domain blocks.
func scoreFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	if info.Size() < fullScanLimit {
		data, err := io.ReadAll(f)
		if err != nil {
			return 0, err
		}
		return len(domainBlock.FindAllIndex(data, -1)) * 5, nil
	}

	sample := make([]byte, sampleSize)
	n, err := io.ReadFull(f, sample)
	if err != nil && err != io.ErrUnexpectedEOF {
		return 0, err
	}
	sample = sample[:n]

	score := 0
	for _, ind := range indicators {
		if bytes.Contains(sample, []byte(ind.marker)) {
			score += ind.points
		}
	}
	return score + len(domainBlock.FindAllIndex(sample, -1))*5, nil
}

// codedDomainXML is one <GPCodedValueDomain2> block.
type codedDomainXML struct {
	DomainName  string `xml:"DomainName"`
	CodedValues []struct {
		Code string `xml:"Code"`
		Name string `xml:"Name"`
	} `xml:"CodedValues>CodedValue"`
}

// ParseCatalog extracts every coded-value domain found in raw table bytes.
// Invalid UTF-8 is dropped before matching. Blocks that cannot be read are
// skipped.
func ParseCatalog(data []byte) map[string]map[int64]string {
	text := strings.ToValidUTF8(string(data), "")

	out := make(map[string]map[int64]string)
	for _, block := range domainBlock.FindAllString(text, -1) {
		name, values := parseBlock(block)
		if name == "" || len(values) == 0 {
			continue
		}
		out[name] = values
	}
	return out
}

func parseBlock(block string) (string, map[int64]string) {
	var d codedDomainXML
	dec := xml.NewDecoder(strings.NewReader(block))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity
	if err := dec.Decode(&d); err != nil {
		logger.Debug("Domain block is not well-formed, matching tags instead: %v", err)
		return scanBlock(block)
	}

	values := make(map[int64]string, len(d.CodedValues))
	for _, cv := range d.CodedValues {
		addValue(values, cv.Code, cv.Name)
	}
	if len(values) == 0 {
		// The non-strict decoder closes stray elements itself, which can
		// move the values out of the expected path.
		return scanBlock(block)
	}
	return strings.TrimSpace(d.DomainName), values
}

func scanBlock(block string) (string, map[int64]string) {
	m := domainNameTag.FindStringSubmatch(block)
	if m == nil {
		return "", nil
	}

	values := make(map[int64]string)
	for _, cv := range codedValueTag.FindAllString(block, -1) {
		code := codeTag.FindStringSubmatch(cv)
		name := nameTag.FindStringSubmatch(cv)
		if code == nil || name == nil {
			continue
		}
		addValue(values, code[1], name[1])
	}
	return html.UnescapeString(strings.TrimSpace(m[1])), values
}

func addValue(values map[int64]string, code, name string) {
	code = strings.TrimSpace(code)
	name = strings.TrimSpace(html.UnescapeString(name))
	if code == "" || name == "" {
		return
	}
	values[domain.ParseDomainCode(code)] = name
}
