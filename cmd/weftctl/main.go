// weftctl runs the bundled barrier reduction exercise: N workers drive N
// generations of an int-add barrier and every participant checks every
// result it reads. Exit code 0 means every read matched; 1 means at least
// one mismatch or failure.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/weft/internal/config"
	"github.com/danmuck/weft/internal/ids"
	"github.com/danmuck/weft/internal/logging"
	"github.com/danmuck/weft/internal/observability"
	"github.com/danmuck/weft/internal/proc"
	"github.com/danmuck/weft/internal/redop"
	"github.com/danmuck/weft/internal/transport"
	"github.com/danmuck/weft/internal/weft"
)

const (
	topLevelTask = proc.TaskIDFirstAvailable
	childTask    = proc.TaskIDFirstAvailable + 1

	barrierInitialValue = 42
)

type options struct {
	configPath string
	nodeID     int
	workers    int
}

func main() {
	opts := options{}
	flag.StringVar(&opts.configPath, "config", "", "cluster config (TOML); empty runs a single in-process node")
	flag.IntVar(&opts.nodeID, "node", 0, "this process's node id within the cluster config")
	flag.IntVar(&opts.workers, "workers", 4, "worker count for the single-node default")
	flag.Parse()

	logging.ConfigureRuntime()

	if err := run(opts); err != nil {
		log.Error().Err(err).Msg("weftctl failed")
		os.Exit(1)
	}
}

func run(opts options) error {
	var cfg config.Cluster
	var err error
	if opts.configPath != "" {
		cfg, err = config.LoadCluster(opts.configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.SingleNode(opts.workers)
	}
	self := ids.NodeID(opts.nodeID)

	var rt *weft.Runtime
	var tr transport.Transport
	if len(cfg.Nodes) == 1 {
		tr = transport.NewLoopbackMesh(1).Node(0)
	} else {
		tr, err = transport.NewTCP(transport.TCPConfig{
			Self:  self,
			Addrs: cfg.Addrs(),
			OnFailure: func(err error) {
				if rt != nil {
					rt.EscalateTransportFailure(err)
				}
			},
		})
		if err != nil {
			return err
		}
	}

	rt, err = weft.New(cfg, self, tr)
	if err != nil {
		return err
	}
	observability.InitLogger("weftctl", uint32(self))
	if err := rt.Init(); err != nil {
		return err
	}
	if err := rt.RegisterReduction(redop.IntAdd()); err != nil {
		return err
	}

	d := &driver{rt: rt}
	if err := rt.RegisterTask(topLevelTask, d.topLevel); err != nil {
		return err
	}
	if err := rt.RegisterTask(childTask, d.child); err != nil {
		return err
	}

	// every node drives the exercise over its own workers; the shared
	// transport carries the shutdown consensus
	if err := rt.Run(topLevelTask, weft.OneTaskPerNode, nil, false); err != nil {
		return err
	}

	if n := d.errors.Load(); n > 0 {
		return fmt.Errorf("%d result mismatches", n)
	}
	log.Info().Msg("all results matched")
	return nil
}

type driver struct {
	rt     *weft.Runtime
	b      ids.Barrier
	errors atomic.Int64
}

func expectedResult(iters, k int) int64 {
	return barrierInitialValue + int64(k+1)*int64(iters)*int64(iters+1)/2
}

// readGeneration mirrors the get_result-then-wait pattern: try without
// blocking, park on the barrier if it is still open, then read again.
func (d *driver) readGeneration(h ids.Barrier) (int64, error) {
	out := make([]byte, 8)
	ready, poisoned, err := d.rt.GetBarrierResult(h, out)
	if err != nil {
		return 0, err
	}
	if !ready {
		if poisoned, err = d.rt.WaitBarrier(h); err != nil {
			return 0, err
		}
		if ready, _, err = d.rt.GetBarrierResult(h, out); err != nil {
			return 0, err
		}
		if !ready {
			return 0, fmt.Errorf("barrier gen %d unpublished after wait", h.Gen)
		}
	}
	if poisoned {
		return 0, weft.ErrPoisoned
	}
	return redop.DecodeInt64(out)
}

func (d *driver) check(who string, k int, got int64, iters int) {
	want := expectedResult(iters, k)
	if got == want {
		log.Info().Str("who", who).Int("iter", k).Int64("result", got).Msg("OK")
		return
	}
	log.Error().Str("who", who).Int("iter", k).Int64("result", got).Int64("want", want).Msg("MISMATCH")
	d.errors.Add(1)
}

func (d *driver) topLevel(args []byte, p proc.Processor) {
	cpus := localCPUs(d.rt)
	iters := len(cpus)
	log.Info().Int("cpus", iters).Msg("top level task - creating barrier")

	b, err := d.rt.CreateBarrier(int64(iters), redop.IntAddID, redop.EncodeInt64(barrierInitialValue))
	if err != nil {
		log.Error().Err(err).Msg("create barrier")
		d.errors.Add(1)
		d.rt.Shutdown()
		return
	}
	d.b = b

	var children []ids.Event
	for i, cpu := range cpus {
		childArgs := make([]byte, 16)
		binary.LittleEndian.PutUint64(childArgs[0:8], uint64(iters))
		binary.LittleEndian.PutUint64(childArgs[8:16], uint64(i))
		e, err := d.rt.Spawn(cpu, childTask, childArgs, ids.NoEvent)
		if err != nil {
			log.Error().Err(err).Int("child", i).Msg("spawn")
			d.errors.Add(1)
			continue
		}
		children = append(children, e)
	}
	log.Info().Int("tasks", len(children)).Msg("tasks launched")

	h := b
	for k := 0; k < iters; k++ {
		got, err := d.readGeneration(h)
		if err != nil {
			log.Error().Err(err).Int("iter", k).Msg("parent read")
			d.errors.Add(1)
		} else {
			d.check("parent", k, got, iters)
		}
		h = h.Advance()
	}

	merged, err := d.rt.MergeEvents(children)
	if err != nil {
		log.Error().Err(err).Msg("merge children")
		d.errors.Add(1)
	} else {
		log.Info().Str("event", merged.ID.String()).Uint32("gen", merged.Gen).Msg("waiting on merged event")
		if _, err := d.rt.WaitEvent(merged); err != nil {
			log.Error().Err(err).Msg("wait merged")
			d.errors.Add(1)
		}
	}

	if err := d.rt.DestroyBarrier(b); err != nil {
		log.Error().Err(err).Msg("destroy barrier")
		d.errors.Add(1)
	}

	log.Info().Msg("done")
	d.rt.Shutdown()
}

func (d *driver) child(args []byte, p proc.Processor) {
	iters := int(binary.LittleEndian.Uint64(args[0:8]))
	index := int(binary.LittleEndian.Uint64(args[8:16]))
	log.Info().Int("child", index).Str("proc", p.ID.String()).Msg("starting child task")

	h := d.b
	for k := 0; k < iters; k++ {
		val := int64(k+1) * int64(index+1)
		if err := d.rt.Arrive(h, 1, ids.NoEvent, redop.EncodeInt64(val)); err != nil {
			log.Error().Err(err).Int("child", index).Int("iter", k).Msg("arrive")
			d.errors.Add(1)
			return
		}
		if k == index {
			got, err := d.readGeneration(h)
			if err != nil {
				log.Error().Err(err).Int("child", index).Int("iter", k).Msg("child read")
				d.errors.Add(1)
			} else {
				d.check(fmt.Sprintf("child %d", index), k, got, iters)
			}
		}
		h = h.Advance()
	}
	log.Info().Int("child", index).Msg("ending child task")
}

func localCPUs(rt *weft.Runtime) []proc.Processor {
	var out []proc.Processor
	for _, p := range rt.Machine().ProcessorsByKind(proc.KindCPU) {
		if p.ID.Owner() == rt.Self() {
			out = append(out, p)
		}
	}
	return out
}
