package data

import (
	"context"
	"fmt"
	"os"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessSampler reads memory figures of the current process and host.
type ProcessSampler struct {
	proc   *process.Process
	logger *log.Helper
}

// NewProcessSampler creates a sampler bound to this process.
func NewProcessSampler(logger log.Logger) (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open current process: %w", err)
	}
	return &ProcessSampler{
		proc:   proc,
		logger: log.NewHelper(logger),
	}, nil
}

// ProcessRSS returns the resident set size in bytes.
func (s *ProcessSampler) ProcessRSS(ctx context.Context) (uint64, error) {
	info, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read process memory: %w", err)
	}
	return info.RSS, nil
}

// HostMemoryPercent returns host memory utilisation in percent.
func (s *ProcessSampler) HostMemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read host memory: %w", err)
	}
	return vm.UsedPercent, nil
}
