package datapipe

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/zhangjyr/gocsv"

	"maro/pkg/constants"
	"maro/pkg/logger"
)

// rawTableHeader is the fixed 11-column schema of the raw VM table.
// The archive carries no header row, so the reader injects this one.
var rawTableHeader = strings.Join([]string{
	"vmid", "subscriptionid", "deploymentid", "vmcreated", "vmdeleted",
	"maxcpu", "avgcpu", "p95maxcpu", "vmcategory", "vmcorecountbucket",
	"vmmemorybucket",
}, ",")

// rawVMRecord carries the raw table columns the cleaner needs; the
// remaining six columns are dropped at decode time.
type rawVMRecord struct {
	VMID            string `csv:"vmid"`
	VMCreated       string `csv:"vmcreated"`
	VMDeleted       string `csv:"vmdeleted"`
	CoreCountBucket string `csv:"vmcorecountbucket"`
	MemoryBucket    string `csv:"vmmemorybucket"`
}

// CleanVMRecord is one row of the canonical table. Field order is the
// output column order.
type CleanVMRecord struct {
	VMID            string `csv:"vmid"`
	VMCreated       int    `csv:"vmcreated"`
	VMDeleted       int    `csv:"vmdeleted"`
	CoreCountBucket int    `csv:"vmcorecountbucket"`
	MemoryBucket    int    `csv:"vmmemorybucket"`
	Lifetime        int    `csv:"lifetime"`
}

// CleanVMTable streams the gzipped raw table at srcPath into the
// canonical table at dstPath and returns the number of rows kept.
// A missing source file is a warning, not an error. Rows that fail
// numeric coercion or fall outside the retention horizon are dropped.
func CleanVMTable(ctx context.Context, srcPath, dstPath string) (int, error) {
	src, err := os.Open(srcPath)
	if os.IsNotExist(err) {
		logger.Warnf("raw table %s does not exist, skipping clean", srcPath)
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to open raw table: %w", err)
	}
	defer src.Close()

	gz, err := gzip.NewReader(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open gzip stream for %s: %w", srcPath, err)
	}
	defer gz.Close()

	records, dropped, err := decodeRawTable(ctx, io.MultiReader(strings.NewReader(rawTableHeader+"\n"), gz))
	if err != nil {
		return 0, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].VMCreated < records[j].VMCreated
	})

	dst, err := os.Create(dstPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create clean table: %w", err)
	}
	defer dst.Close()

	if err := gocsv.Marshal(records, dst); err != nil {
		return 0, fmt.Errorf("failed to write clean table: %w", err)
	}

	logger.Infof("cleaned vm table %s: %d rows kept, %d dropped", dstPath, len(records), dropped)
	return len(records), nil
}

// decodeRawTable streams raw rows, keeping the coerced survivors.
func decodeRawTable(ctx context.Context, r io.Reader) ([]*CleanVMRecord, int, error) {
	decoder := gocsv.NewSimpleDecoderFromCSVReader(csv.NewReader(r))

	var records []*CleanVMRecord
	dropped := 0
	decodeCtx := ctx
	for {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}

		var raw rawVMRecord
		var err error
		decodeCtx, err = gocsv.UnmarshalDecoderWithContext(decodeCtx, decoder, &raw)
		if err == io.EOF {
			break
		}
		if err != nil {
			// Malformed row; drop it and keep streaming.
			dropped++
			continue
		}

		clean, ok := cleanRow(&raw)
		if !ok {
			dropped++
			continue
		}
		records = append(records, clean)
	}
	return records, dropped, nil
}

// cleanRow coerces one raw row: timestamps are bucketed by the time
// quantum, bucket columns must be numeric, and rows deleted after the
// retention horizon are discarded.
func cleanRow(raw *rawVMRecord) (*CleanVMRecord, bool) {
	created, err := strconv.Atoi(strings.TrimSpace(raw.VMCreated))
	if err != nil {
		return nil, false
	}
	deleted, err := strconv.Atoi(strings.TrimSpace(raw.VMDeleted))
	if err != nil {
		return nil, false
	}
	cores, err := strconv.Atoi(strings.TrimSpace(raw.CoreCountBucket))
	if err != nil {
		return nil, false
	}
	memory, err := strconv.Atoi(strings.TrimSpace(raw.MemoryBucket))
	if err != nil {
		return nil, false
	}

	created /= constants.TraceTimeQuantum
	deleted /= constants.TraceTimeQuantum
	if deleted > constants.TraceRetentionHorizon {
		return nil, false
	}

	return &CleanVMRecord{
		VMID:            raw.VMID,
		VMCreated:       created,
		VMDeleted:       deleted,
		CoreCountBucket: cores,
		MemoryBucket:    memory,
		Lifetime:        deleted - created,
	}, true
}
