package output

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteAll renders r once per entry in formats, writing each to
// outputPath with the format's extension (outputPath + ".json",
// ".csv", ".txt") when outputPath is non-empty, or to stdout
// otherwise. Mirrors config.ManifestMonitor's OutputFormats/OutputPath
// pair: a caller with multiple formats and no path gets every
// rendering on stdout, one after another.
func WriteAll(r Report, formats []string, outputPath string) error {
	if len(formats) == 0 {
		formats = []string{string(FormatText)}
	}

	for _, f := range formats {
		format := Format(f)
		if outputPath == "" {
			if err := Render(os.Stdout, r, format); err != nil {
				return fmt.Errorf("output: rendering %s: %w", format, err)
			}
			continue
		}

		path := outputPath + "." + extensionFor(format)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("output: creating output dir: %w", err)
		}
		file, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("output: creating %s: %w", path, err)
		}
		err = Render(file, r, format)
		closeErr := file.Close()
		if err != nil {
			return fmt.Errorf("output: rendering %s: %w", format, err)
		}
		if closeErr != nil {
			return fmt.Errorf("output: closing %s: %w", path, closeErr)
		}
	}

	return nil
}

func extensionFor(f Format) string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatCSV:
		return "csv"
	default:
		return "txt"
	}
}
