package fetcher

import "os"

// writeTestFile drops fixture content at path.
func writeTestFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
