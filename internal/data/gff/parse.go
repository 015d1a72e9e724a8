// Package gff serves gene annotation tiles computed from a GFF3 document.
package gff

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strconv"
	"strings"

	gffio "github.com/biogo/biogo/io/featio/gff"
	"github.com/biogo/biogo/seq"
	"github.com/biogo/store/interval"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/genotiles/server/internal/genome"
	"github.com/genotiles/server/internal/tiles"
)

// annotations is the parsed, indexed form of one document.
type annotations struct {
	genome   *genome.Index
	features []tiles.Feature // sorted by start
	tree     interval.IntTree
}

// featureInterval adapts an indexed feature to the interval tree.
type featureInterval struct {
	idx        int
	start, end int
}

func (f featureInterval) Overlap(b interval.IntRange) bool {
	return f.end > b.Start && f.start < b.End
}
func (f featureInterval) ID() uintptr { return uintptr(f.idx) }
func (f featureInterval) Range() interval.IntRange {
	return interval.IntRange{Start: f.start, End: f.end}
}

// query returns the features overlapping [start, end).
func (a *annotations) query(start, end int64) []tiles.Feature {
	if a.tree.Len() == 0 || end <= start {
		return nil
	}
	hits := a.tree.Get(featureInterval{start: int(start), end: int(end)})
	out := make([]tiles.Feature, len(hits))
	for i, h := range hits {
		out[i] = a.features[h.(featureInterval).idx]
	}
	return out
}

// document splits a GFF3 file into its feature lines and its sequence-region
// pragmas. Other directives and comments are dropped.
type document struct {
	body    bytes.Buffer
	regions map[string]int64
	order   []string
}

func (d *document) see(name string) {
	if _, ok := d.regions[name]; ok {
		return
	}
	for _, n := range d.order {
		if n == name {
			return
		}
	}
	d.order = append(d.order, name)
}

func scanDocument(r io.Reader) (*document, error) {
	d := &document{regions: make(map[string]int64)}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "##FASTA"), strings.HasPrefix(line, ">"):
			return d, nil
		case strings.HasPrefix(line, "##sequence-region"):
			fields := strings.Fields(line)
			if len(fields) != 4 {
				log.Warnf("Ignoring malformed pragma %q", line)
				continue
			}
			end, err := strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				log.Warnf("Ignoring malformed pragma %q", line)
				continue
			}
			d.see(fields[1])
			d.regions[fields[1]] = end
		case strings.TrimSpace(line) == "", strings.HasPrefix(line, "#"):
		default:
			d.body.WriteString(toGFF2(line))
			d.body.WriteByte('\n')
		}
	}
	return d, sc.Err()
}

// parse reads a whole document and indexes the features of the wanted types.
// Chromosome sizes come from idx when given, otherwise from region features,
// sequence-region pragmas and finally the extent of the features themselves.
func parse(uid string, r io.Reader, idx *genome.Index, types, namePaths []string) (*annotations, error) {
	doc, err := scanDocument(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read gff: %w", err)
	}

	wanted := make(map[string]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var (
		genes     []*gffio.Feature
		regions   = make(map[string]int64)
		extents   = make(map[string]int64)
		seqOrder  []string
		seenChrom = make(map[string]bool)
	)
	for _, name := range doc.order {
		seenChrom[name] = true
		seqOrder = append(seqOrder, name)
	}

	in := gffio.NewReader(&doc.body)
	for {
		f, err := in.Read()
		if err != nil {
			if err != io.EOF {
				return nil, fmt.Errorf("failed to parse gff: %w", err)
			}
			break
		}
		gf := f.(*gffio.Feature)
		if !seenChrom[gf.SeqName] {
			seenChrom[gf.SeqName] = true
			seqOrder = append(seqOrder, gf.SeqName)
		}
		extents[gf.SeqName] = max(extents[gf.SeqName], int64(gf.FeatEnd))
		if gf.Feature == "region" {
			regions[gf.SeqName] = max(regions[gf.SeqName], int64(gf.FeatEnd))
		}
		if wanted[gf.Feature] {
			genes = append(genes, gf)
		}
	}

	if idx == nil {
		table := make([]genome.Chrom, 0, len(seqOrder))
		for _, name := range seqOrder {
			length, ok := regions[name]
			if !ok {
				length, ok = doc.regions[name]
			}
			if !ok {
				length = extents[name]
			}
			table = append(table, genome.Chrom{Name: name, Length: length})
		}
		if idx, err = genome.NewIndex(table); err != nil {
			return nil, err
		}
	}

	a := &annotations{genome: idx, features: make([]tiles.Feature, 0, len(genes))}
	for _, gf := range genes {
		cp, ok := idx.Lookup(gf.SeqName)
		if !ok {
			log.WithField("tileset", uid).Warnf("Skipping %s on unknown chromosome %s", gf.Feature, gf.SeqName)
			continue
		}
		a.features = append(a.features, toFeature(uid, gf, cp, namePaths))
	}
	sort.SliceStable(a.features, func(i, j int) bool { return a.features[i].Start < a.features[j].Start })

	for i, f := range a.features {
		if err := a.tree.Insert(featureInterval{idx: i, start: int(f.Start), end: int(f.End)}, true); err != nil {
			return nil, fmt.Errorf("failed to index feature %s: %w", f.UID, err)
		}
	}
	a.tree.AdjustRanges()

	log.WithFields(log.Fields{
		"tileset":  uid,
		"features": len(a.features),
		"chroms":   idx.Len(),
	}).Info("Indexed gff annotations")
	return a, nil
}

func toFeature(uid string, gf *gffio.Feature, cp genome.ChromPosition, namePaths []string) tiles.Feature {
	strand := strandString(gf.FeatStrand)
	start, end := int64(gf.FeatStart), int64(gf.FeatEnd)
	id := attribute(gf, "ID")

	var name string
	for _, tag := range namePaths {
		if name = attribute(gf, tag); name != "" {
			break
		}
	}

	key := fmt.Sprintf("%s|%s|%s|%d|%d|%s", uid, gf.SeqName, gf.Feature, start, end, id)
	return tiles.Feature{
		UID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String(),
		Start:      cp.Start + start,
		End:        cp.Start + end,
		Strand:     strand,
		Type:       gf.Feature,
		ChrOffset:  cp.Start,
		Importance: end - start,
		Fields: []string{
			gf.SeqName,
			strconv.FormatInt(start+1, 10),
			strconv.FormatInt(end, 10),
			name,
			strconv.FormatInt(end-start, 10),
			strand,
			"",
			"",
			gf.Feature,
		},
	}
}

// toGFF2 rewrites one GFF3 record into the GFF2 layout the reader accepts:
// column 9 becomes tag "value" pairs and an unknown strand becomes ".".
// Values stay percent-encoded until attribute decodes them.
func toGFF2(line string) string {
	fields := strings.Split(line, "\t")
	if len(fields) > 6 && fields[6] == "?" {
		fields[6] = "."
	}
	if len(fields) > 8 {
		fields[8] = gff2Attributes(fields[8])
	}
	return strings.Join(fields, "\t")
}

func gff2Attributes(col string) string {
	var b strings.Builder
	for _, kv := range strings.Split(col, ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" || kv == "." {
			continue
		}
		tag, value, ok := strings.Cut(kv, "=")
		if !ok {
			// already GFF2: tag "value"
			tag, value, _ = strings.Cut(kv, " ")
			value = strings.Trim(strings.TrimSpace(value), `"`)
		}
		if !validTag(tag) {
			log.Debugf("Dropping gff attribute with unsupported tag %q", tag)
			continue
		}
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(tag)
		b.WriteString(` "`)
		b.WriteString(strings.ReplaceAll(value, `"`, "%22"))
		b.WriteByte('"')
	}
	return b.String()
}

// validTag reports whether the reader accepts tag: letters and underscores.
func validTag(tag string) bool {
	if tag == "" {
		return false
	}
	for _, r := range tag {
		if r != '_' && (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

// attribute returns the decoded value of a GFF3 attribute.
func attribute(gf *gffio.Feature, tag string) string {
	v := strings.Trim(gf.FeatAttributes.Get(tag), `"`)
	if u, err := url.PathUnescape(v); err == nil {
		return u
	}
	return v
}

func strandString(s seq.Strand) string {
	switch s {
	case seq.Plus:
		return "+"
	case seq.Minus:
		return "-"
	}
	return "."
}
