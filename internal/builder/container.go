package builder

import (
	"fmt"
	"strconv"
	"strings"
)

// containerized rewraps a command as a single shell invocation inside a new
// ephemeral container. The cache and output directories are bind-mounted at
// identical paths so log and artifact paths mean the same thing inside and
// outside; the environment travels as discrete -e flags.
func (b *Builder) containerized(argv []string, env map[string]string, cpu, mem float64) []string {
	engine := b.cfg.ContainerEngine
	if engine == "" {
		engine = "docker"
	}
	args := []string{engine, "run", "--rm"}

	cpuLimit := cpu
	if cpuLimit == 0 {
		cpuLimit, _ = strconv.ParseFloat(b.cfg.ContainerCPU, 64)
	}
	memLimit := mem
	var memFlag string
	if memLimit > 0 {
		memFlag = fmt.Sprintf("%dm", int64(memLimit))
	} else if b.cfg.ContainerMemory != "" {
		memFlag = b.cfg.ContainerMemory
	}
	if cpuLimit > 0 {
		args = append(args, "--cpus", strconv.FormatFloat(cpuLimit, 'f', -1, 64))
	}
	if memFlag != "" {
		args = append(args, "--memory", memFlag)
	}

	args = append(args,
		"-v", b.cacheDir+":"+b.cacheDir,
		"-v", b.outputDir+":"+b.outputDir,
	)
	for _, kv := range flattenEnv(env) {
		args = append(args, "-e", kv)
	}
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = shellQuote(a)
	}
	args = append(args, b.containerImage, "sh", "-c", strings.Join(quoted, " "))
	return args
}
