// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
)

//go:embed *.sql
var embeddedFiles embed.FS

// Migration files are applied in lexical order, so every file must carry a
// zero-padded numeric prefix.
var migrationNamePattern = regexp.MustCompile(`^\d{4}_[a-z0-9_]+\.sql$`)

type File struct {
	Name string
	SQL  string
}

func Ordered() ([]File, error) {
	entries, err := fs.ReadDir(embeddedFiles, ".")
	if err != nil {
		return nil, err
	}

	files := make([]File, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		if !migrationNamePattern.MatchString(entry.Name()) {
			return nil, fmt.Errorf("migration %q does not match NNNN_name.sql", entry.Name())
		}

		body, err := embeddedFiles.ReadFile(entry.Name())
		if err != nil {
			return nil, err
		}

		files = append(files, File{
			Name: entry.Name(),
			SQL:  string(body),
		})
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})

	return files, nil
}
