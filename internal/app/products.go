package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ReadProductList reads a newline-delimited product list file.
func ReadProductList(path string) ([]string, error) {
	f, err := os.Open(path) //#nosec G304 -- path comes from the command line
	if err != nil {
		return nil, fmt.Errorf("opening product list: %w", err)
	}
	defer func() { _ = f.Close() }()

	products, err := ParseProductList(f)
	if err != nil {
		return nil, fmt.Errorf("reading product list %s: %w", path, err)
	}
	return products, nil
}

// ParseProductList returns one identifier per line. Lines are trimmed;
// blank lines and lines starting with '#' are ignored.
func ParseProductList(r io.Reader) ([]string, error) {
	var products []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		products = append(products, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return products, nil
}
