package drift

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/catherinevee/driftcert/internal/models"
)

// binaryDeltas handles modified non-text files: a size+hash metadata delta,
// plus member-level diffs for zip/jar and tar archives and a MANIFEST.MF
// key diff for jars.
func binaryDeltas(golden, drift *Tree, changes models.FileChanges) []models.Delta {
	var deltas []models.Delta

	for _, entry := range changes.Modified {
		file := entry.Path
		goldenData := golden.Read(file)
		driftData := drift.Read(file)
		if !isBinary(goldenData) && !isBinary(driftData) {
			continue
		}

		gf := golden.Files[file]
		df := drift.Files[file]
		deltas = append(deltas, models.Delta{
			ID:       fmt.Sprintf("bin~%s", file),
			Category: models.CategoryBinaryMeta,
			File:     file,
			Locator:  models.Locator{Type: models.LocatorPath, Value: file},
			Old:      models.StrPtr(fmt.Sprintf("size=%d sha256=%s", gf.Size, gf.SHA256)),
			New:      models.StrPtr(fmt.Sprintf("size=%d sha256=%s", df.Size, df.SHA256)),
		})

		switch strings.ToLower(path.Ext(file)) {
		case ".zip", ".jar", ".war", ".ear":
			deltas = append(deltas, zipDeltas(file, goldenData, driftData)...)
		case ".tar":
			deltas = append(deltas, tarDeltas(file, goldenData, driftData)...)
		}
	}
	return deltas
}

func zipDeltas(file string, goldenData, driftData []byte) []models.Delta {
	goldenEntries, goldenManifest := zipContents(goldenData)
	driftEntries, driftManifest := zipContents(driftData)

	deltas := memberDeltas(file, "zip", goldenEntries, driftEntries)

	if goldenManifest != "" || driftManifest != "" {
		diff := diffConfigFile(file+"!META-INF/MANIFEST.MF",
			[]byte(goldenManifest), []byte(driftManifest))
		for _, kc := range append(append(diff.AddedKeys, diff.RemovedKeys...), diff.ChangedKeys...) {
			delta := models.Delta{
				ID:       fmt.Sprintf("zip~%s!MANIFEST.MF.%s", file, kc.Key),
				Category: models.CategoryArchiveManifest,
				File:     file,
				Locator:  models.Locator{Type: models.LocatorKeypath, Value: kc.Key},
			}
			if kc.From != "" {
				delta.Old = models.StrPtr(kc.From)
			}
			if kc.To != "" {
				delta.New = models.StrPtr(kc.To)
			}
			deltas = append(deltas, delta)
		}
	}
	return deltas
}

// zipContents enumerates entry sizes and extracts META-INF/MANIFEST.MF,
// normalised to key: value lines the properties parser understands.
func zipContents(data []byte) (map[string]int64, string) {
	entries := make(map[string]int64)
	manifest := ""
	if len(data) == 0 {
		return entries, manifest
	}

	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return entries, manifest
	}
	for _, f := range reader.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		entries[f.Name] = int64(f.UncompressedSize64)
		if f.Name == "META-INF/MANIFEST.MF" {
			rc, err := f.Open()
			if err != nil {
				continue
			}
			raw, err := io.ReadAll(io.LimitReader(rc, 1<<20))
			rc.Close()
			if err == nil {
				manifest = unfoldManifest(string(raw))
			}
		}
	}
	return entries, manifest
}

// unfoldManifest joins MANIFEST.MF continuation lines (leading space)
func unfoldManifest(raw string) string {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	var out []string
	for _, line := range lines {
		if strings.HasPrefix(line, " ") && len(out) > 0 {
			out[len(out)-1] += strings.TrimPrefix(line, " ")
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func tarDeltas(file string, goldenData, driftData []byte) []models.Delta {
	return memberDeltas(file, "tar", tarContents(goldenData), tarContents(driftData))
}

func tarContents(data []byte) map[string]int64 {
	entries := make(map[string]int64)
	if len(data) == 0 {
		return entries
	}
	reader := tar.NewReader(bytes.NewReader(data))
	for {
		hdr, err := reader.Next()
		if err != nil {
			return entries
		}
		if hdr.Typeflag == tar.TypeReg {
			entries[hdr.Name] = hdr.Size
		}
	}
}

// memberDeltas emits one archive_delta per added/removed/resized member
func memberDeltas(file, kind string, golden, drift map[string]int64) []models.Delta {
	names := make(map[string]bool)
	for n := range golden {
		names[n] = true
	}
	for n := range drift {
		names[n] = true
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	var deltas []models.Delta
	for _, name := range sorted {
		oldSize, hadOld := golden[name]
		newSize, hadNew := drift[name]
		if hadOld && hadNew && oldSize == newSize {
			continue
		}
		delta := models.Delta{
			ID:       fmt.Sprintf("%s~%s!%s", kind, file, name),
			Category: models.CategoryArchiveDelta,
			File:     file,
			Locator:  models.Locator{Type: models.LocatorPath, Value: name},
		}
		if hadOld {
			delta.Old = models.StrPtr(fmt.Sprintf("size=%d", oldSize))
		}
		if hadNew {
			delta.New = models.StrPtr(fmt.Sprintf("size=%d", newSize))
		}
		deltas = append(deltas, delta)
	}
	return deltas
}
