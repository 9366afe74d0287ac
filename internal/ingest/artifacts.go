package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hurttlocker/mediakb/internal/extract"
	"github.com/hurttlocker/mediakb/internal/payload"
)

const (
	previewRunes  = 200
	summarySample = 10
)

// writeArtifact writes data under ArtifactDir/sub and returns the path, or
// "" when artifacts are disabled or the write fails.
func (o *Orchestrator) writeArtifact(sub, name string, data []byte) string {
	if o.artifactDir == "" {
		return ""
	}
	dir := filepath.Join(o.artifactDir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		o.log.Warn("artifact dir", zap.String("dir", dir), zap.Error(err))
		return ""
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		o.log.Warn("artifact write", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

// dumpRaw keeps a collector response that yielded no JSON.
func (o *Orchestrator) dumpRaw(round int, name, raw string) string {
	return o.writeArtifact("raw", fmt.Sprintf("ingest_raw_r%d_%s.txt", round, extract.SafeFileToken(name)), []byte(raw))
}

func (o *Orchestrator) writeSnapshot(query string, snap snapshot) string {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return ""
	}
	name := fmt.Sprintf("person_%s_%s.json", o.now().Format("20060102-150405"), extract.SafeFileToken(query))
	return o.writeArtifact("person", name, data)
}

// preview flattens a response to one line for the progress stream.
func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > previewRunes {
		return string(r[:previewRunes])
	}
	return s
}

// summaryLines renders what a merged payload adds, with a sample of each
// kind.
func summaryLines(p *payload.Payload) []string {
	c := p.Count()
	lines := []string{fmt.Sprintf("DB added summary: persons=%d, works=%d, credits=%d, external_ids=%d, unified=%d",
		c.Persons, c.Works, c.Credits, c.ExternalIDs, c.Unified)}

	section := func(kind string, n int, line func(i int) string) {
		if n == 0 {
			return
		}
		lines = append(lines, "Added "+kind+":")
		for i := 0; i < n && i < summarySample; i++ {
			lines = append(lines, "- "+line(i))
		}
		if n > summarySample {
			lines = append(lines, "... and "+strconv.Itoa(n-summarySample)+" more "+kind)
		}
	}
	section("persons", c.Persons, func(i int) string { return strings.TrimSpace(p.Persons[i].Name) })
	section("works", c.Works, func(i int) string {
		w := p.Works[i]
		var extra []string
		if cat := strings.TrimSpace(w.Category); cat != "" {
			extra = append(extra, cat)
		}
		if w.Year != 0 {
			extra = append(extra, strconv.Itoa(w.Year))
		}
		if len(extra) == 0 {
			return strings.TrimSpace(w.Title)
		}
		return strings.TrimSpace(w.Title) + " (" + strings.Join(extra, ", ") + ")"
	})
	section("credits", c.Credits, func(i int) string {
		cr := p.Credits[i]
		s := strings.TrimSpace(cr.Work) + " : " + strings.TrimSpace(cr.Person) + " [" + strings.TrimSpace(cr.Role) + "]"
		if ch := strings.TrimSpace(cr.Character); ch != "" {
			s += " as " + ch
		}
		return s
	})
	section("external_ids", c.ExternalIDs, func(i int) string {
		e := p.ExternalIDs[i]
		return e.Entity + ":" + strings.TrimSpace(e.Name) + " " + e.Source + "=" + e.Value
	})
	return lines
}
