// Package mock provides a synthetic analysis engine: a self-contained
// shell script that emits staged progress output and a sentinel-delimited
// result, so the full streaming pipeline can be exercised without the real
// engine installed. Used by the server's --mock flag and by tests.
package mock

import (
	"fmt"
	"os"
	"path/filepath"
)

// engineScript mimics a verbose multi-agent analysis run: phase banners,
// tool chatter, a deliberately repeated long line (exercises dedup), and a
// final structured result. It reads the job file it is handed so warm runs
// behave like the real engine.
const engineScript = `#!/bin/sh
JOB_FILE="$1"

echo "🚀 Starting invoice analysis"
echo "=================================================="
echo "📋 Job description:"
cat "$JOB_FILE"
echo ""
sleep 1

echo "🔄 Working Agent: document-extractor"
echo "Action: unpack archive"
echo "Observation: 42 fiscal documents found"
sleep 1

echo "🧠 Working Agent: query-analyst"
echo "Thought: aggregating totals per supplier across all parsed documents"
echo "Thought: aggregating totals per supplier across all parsed documents"
sleep 1

echo "📊 Tool: pandas_query"
echo "Observation: aggregation complete, 7 suppliers"
echo "=================================================="
echo "✅ Completed analysis"

echo "__RESULT_START__"
printf '%s\n' '{"success": true, "result": "## Invoice analysis (mock)\n\nTop supplier: ACME Ltda with R$ 41.230,00 across 12 invoices.\n\nThis answer was produced by the mock engine."}'
echo "__RESULT_END__"
`

// WriteEngineScript materializes the mock engine into dir and returns its
// path, ready to be used as the engine command.
func WriteEngineScript(dir string) (string, error) {
	path := filepath.Join(dir, "mock-engine.sh")
	if err := os.WriteFile(path, []byte(engineScript), 0o755); err != nil {
		return "", fmt.Errorf("write mock engine: %w", err)
	}
	return path, nil
}
