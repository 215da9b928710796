// Package elfsym resolves firmware memory addresses to source symbols by
// shelling out to addr2line. Resolution is strictly best-effort: a missing
// tool or an unresolvable address degrades to Resolved=false, never an error.
package elfsym

import (
	"context"
	"log"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"

	"fwlens/pkg/models"
)

var addressPattern = regexp.MustCompile(`0x[0-9a-fA-F]{8}`)

// fallbackTools are tried in order when the configured addr2line is absent.
var fallbackTools = []string{
	"arm-none-eabi-addr2line",
	"/usr/bin/addr2line",
	"/usr/local/bin/addr2line",
}

const probeTimeout = 5 * time.Second
const resolveTimeout = 10 * time.Second

// Resolver runs addr2line against an uploaded ELF image.
type Resolver struct {
	toolPath string
}

// NewResolver probes for a working addr2line binary, starting with toolPath
// (or plain "addr2line" if empty) and falling back through the usual
// cross-toolchain locations. If nothing responds, resolution is disabled.
func NewResolver(toolPath string) *Resolver {
	if toolPath == "" {
		toolPath = "addr2line"
	}

	candidates := append([]string{toolPath}, fallbackTools...)
	for _, candidate := range candidates {
		if probeTool(candidate) {
			return &Resolver{toolPath: candidate}
		}
	}

	log.Println("addr2line not found, symbol resolution disabled")
	return &Resolver{}
}

func probeTool(path string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()
	return exec.CommandContext(ctx, path, "--version").Run() == nil
}

// Available reports whether a usable addr2line was found.
func (r *Resolver) Available() bool {
	return r.toolPath != ""
}

// ToolPath returns the addr2line binary in use, or "" when disabled.
func (r *Resolver) ToolPath() string {
	return r.toolPath
}

// ExtractAddresses returns the unique 8-hex-digit 0x addresses in the log,
// in first-seen order.
func ExtractAddresses(logContent string) []string {
	seen := make(map[string]bool)
	var addresses []string
	for _, addr := range addressPattern.FindAllString(logContent, -1) {
		if !seen[addr] {
			seen[addr] = true
			addresses = append(addresses, addr)
		}
	}
	return addresses
}

// Resolve maps each address to a symbol using the given ELF image. The image
// is written to a temp file for the lifetime of the call. Addresses that
// cannot be resolved (or any subprocess failure) come back with
// Resolved=false.
func (r *Resolver) Resolve(ctx context.Context, elfContent []byte, addresses []string) []models.SymbolResolution {
	if !r.Available() || len(addresses) == 0 {
		resolutions := make([]models.SymbolResolution, 0, len(addresses))
		for _, addr := range addresses {
			resolutions = append(resolutions, models.SymbolResolution{Address: addr})
		}
		return resolutions
	}

	tmp, err := os.CreateTemp("", "fwlens-*.elf")
	if err != nil {
		log.Printf("failed to stage ELF image: %v", err)
		resolutions := make([]models.SymbolResolution, 0, len(addresses))
		for _, addr := range addresses {
			resolutions = append(resolutions, models.SymbolResolution{Address: addr})
		}
		return resolutions
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(elfContent); err != nil {
		tmp.Close()
		log.Printf("failed to write ELF image: %v", err)
		resolutions := make([]models.SymbolResolution, 0, len(addresses))
		for _, addr := range addresses {
			resolutions = append(resolutions, models.SymbolResolution{Address: addr})
		}
		return resolutions
	}
	tmp.Close()

	resolutions := make([]models.SymbolResolution, 0, len(addresses))
	for _, addr := range addresses {
		resolutions = append(resolutions, r.resolveOne(ctx, tmp.Name(), addr))
	}
	return resolutions
}

func (r *Resolver) resolveOne(ctx context.Context, elfPath, address string) models.SymbolResolution {
	clean := strings.TrimPrefix(strings.TrimSpace(address), "0x")

	runCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	// -f prints the function name, -C demangles C++ symbols.
	cmd := exec.CommandContext(runCtx, r.toolPath, "-f", "-C", "-e", elfPath, clean)
	output, err := cmd.Output()
	if err != nil {
		return models.SymbolResolution{Address: address}
	}

	return parseAddr2lineOutput(address, string(output))
}

// parseAddr2lineOutput interprets the two-line "function\nfile:line" reply.
// addr2line prints "??" and "??:0" for anything it cannot resolve.
func parseAddr2lineOutput(address, output string) models.SymbolResolution {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) < 2 {
		return models.SymbolResolution{Address: address}
	}

	functionName := strings.TrimSpace(lines[0])
	fileInfo := strings.TrimSpace(lines[1])

	resolution := models.SymbolResolution{Address: address}
	if functionName != "??" && functionName != "" {
		resolution.FunctionName = functionName
	}

	if fileInfo != "??:0" {
		if idx := strings.LastIndex(fileInfo, ":"); idx > 0 {
			resolution.FileName = fileInfo[:idx]
			if n, err := strconv.Atoi(fileInfo[idx+1:]); err == nil {
				resolution.LineNumber = n
			}
		}
	}

	resolution.Resolved = resolution.FunctionName != "" && fileInfo != "??:0"
	return resolution
}
