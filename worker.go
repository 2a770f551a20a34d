package mapreduce

import (
	"context"
	"fmt"
	"net"
	"net/rpc"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// WorkerProcess is a standalone worker: it signs in to a master, then
// serves StartMap/StartReduce/Ping/Quit RPCs the master calls to push
// task assignments and liveness checks, replacing the teacher's
// RPC-count-limited accept loop (which only ever served one master)
// with a long-lived listener that can outlive any single job.
type WorkerProcess struct {
	Program    *Program
	Logger     hclog.Logger
	MasterAddr string
	ListenAddr string

	mu       sync.Mutex
	id       int
	cookie   string
	listener net.Listener
	done     chan struct{}
}

// NewWorkerProcess returns a worker ready to Run against masterAddr,
// listening on listenAddr for inbound task assignments.
func NewWorkerProcess(program *Program, masterAddr, listenAddr string, cfg *Config) *WorkerProcess {
	return &WorkerProcess{
		Program:    program,
		Logger:     NewLogger("worker", cfg),
		MasterAddr: masterAddr,
		ListenAddr: listenAddr,
		done:       make(chan struct{}),
	}
}

// workerRPCHandler is the receiver net/rpc dispatches inbound
// Worker.* calls to.
type workerRPCHandler struct {
	w *WorkerProcess
}

func (h *workerRPCHandler) StartMap(args *StartTaskArgs, reply *BoolReply) error {
	reply.OK = h.w.verifyCookie(args.Cookie)
	if reply.OK {
		go h.w.runMapTask(args)
	}
	return nil
}

func (h *workerRPCHandler) StartReduce(args *StartTaskArgs, reply *BoolReply) error {
	reply.OK = h.w.verifyCookie(args.Cookie)
	if reply.OK {
		go h.w.runReduceTask(args)
	}
	return nil
}

func (h *workerRPCHandler) Ping(args *PingArgs, reply *BoolReply) error {
	reply.OK = h.w.verifyCookie(args.Cookie)
	return nil
}

func (h *workerRPCHandler) Quit(args *QuitArgs, reply *BoolReply) error {
	reply.OK = h.w.verifyCookie(args.Cookie)
	if reply.OK {
		h.w.stop()
	}
	return nil
}

func (w *WorkerProcess) verifyCookie(cookie string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cookie != "" && cookie == w.cookie
}

func (w *WorkerProcess) stop() {
	w.mu.Lock()
	l := w.listener
	w.mu.Unlock()
	select {
	case <-w.done:
	default:
		close(w.done)
	}
	if l != nil {
		l.Close()
	}
}

// Run starts the inbound listener, signs in to the master, and blocks
// until a Quit RPC or ctx cancellation.
func (w *WorkerProcess) Run(ctx context.Context) error {
	l, err := net.Listen("tcp", w.ListenAddr)
	if err != nil {
		return fmt.Errorf("mapreduce: worker listen on %s: %w", w.ListenAddr, err)
	}
	w.mu.Lock()
	w.listener = l
	w.mu.Unlock()

	server := rpc.NewServer()
	if err := server.RegisterName("Worker", &workerRPCHandler{w: w}); err != nil {
		return fmt.Errorf("mapreduce: register worker rpcs: %w", err)
	}
	go w.acceptLoop(server, l)

	_, port, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return fmt.Errorf("mapreduce: worker listener address: %w", err)
	}
	if err := w.signin(port); err != nil {
		return err
	}

	var readyReply BoolReply
	call(w.MasterAddr, ReadyMethod, &ReadyArgs{WorkerID: w.id, Cookie: w.cookie}, &readyReply)

	select {
	case <-ctx.Done():
		w.stop()
		return ctx.Err()
	case <-w.done:
		return nil
	}
}

func (w *WorkerProcess) acceptLoop(server *rpc.Server, l net.Listener) {
	for {
		conn, err := l.Accept()
		if err != nil {
			select {
			case <-w.done:
			default:
				w.Logger.Warn("worker accept error", "error", err)
			}
			return
		}
		go func() {
			defer conn.Close()
			server.ServeConn(conn)
		}()
	}
}

// signin performs the Signin RPC and records the assigned id and
// cookie, rejecting the process if the master reports a mismatch.
func (w *WorkerProcess) signin(port string) error {
	args := &SigninArgs{
		Version:      Version,
		WorkerPort:   port,
		SourceHash:   w.Program.SourceHash,
		RegistryHash: w.Program.Registry.Fingerprint(),
	}
	var reply SigninReply
	if !call(w.MasterAddr, SigninMethod, args, &reply) {
		return fmt.Errorf("mapreduce: signin RPC to %s failed", w.MasterAddr)
	}
	if reply.WorkerID < 0 {
		return fmt.Errorf("mapreduce: master rejected signin (version or fingerprint mismatch)")
	}

	w.mu.Lock()
	w.id = reply.WorkerID
	w.cookie = reply.Options["cookie"]
	w.mu.Unlock()

	w.Logger.Info("signed in", "worker_id", reply.WorkerID, "master", w.MasterAddr)
	return nil
}

// runMapTask executes a map assignment end to end, reporting success
// via Done and then re-joining the idle queue via Ready. A panicking
// user map function is recovered and logged, like any other task
// error; no Done or Ready is sent for that assignment, and the worker
// keeps answering pings, so the master keeps the task ACTIVE under this
// worker unless a later ping fails.
func (w *WorkerProcess) runMapTask(args *StartTaskArgs) {
	defer w.recoverTask(args.TaskID)

	mapFn, partFn, err := w.resolveMapFuncs(args)
	if err != nil {
		w.Logger.Error("map task aborted", "task_id", args.TaskID, "error", err)
		return
	}

	outURLs, err := RunMap(mapFn, partFn, args.TaskID, args.InputURLs, args.NParts, args.OutDir, uniqueJobSuffix())
	if err != nil {
		w.Logger.Error("map task failed", "task_id", args.TaskID, "error", err)
		return
	}
	w.reportDone(args.TaskID, MapPhase, outURLs)
}

// runReduceTask is runMapTask's reduce-phase counterpart.
func (w *WorkerProcess) runReduceTask(args *StartTaskArgs) {
	defer w.recoverTask(args.TaskID)

	reduceFn, err := w.resolveReduceFunc(args)
	if err != nil {
		w.Logger.Error("reduce task aborted", "task_id", args.TaskID, "error", err)
		return
	}

	outURLs, err := RunReduce(reduceFn, args.TaskID, args.InputURLs, args.OutDir, uniqueJobSuffix())
	if err != nil {
		w.Logger.Error("reduce task failed", "task_id", args.TaskID, "error", err)
		return
	}
	w.reportDone(args.TaskID, ReducePhase, outURLs)
}

func (w *WorkerProcess) recoverTask(taskID int) {
	if r := recover(); r != nil {
		w.Logger.Error("task panicked", "task_id", taskID, "recovered", r)
	}
}

func (w *WorkerProcess) resolveMapFuncs(args *StartTaskArgs) (MapFunc, PartitionFunc, error) {
	fn, ok := w.Program.Registry.Lookup(args.FuncName)
	if !ok {
		return nil, nil, fmt.Errorf("no map function registered under %q", args.FuncName)
	}
	mapFn, ok := fn.(MapFunc)
	if !ok {
		return nil, nil, fmt.Errorf("%q is not a MapFunc", args.FuncName)
	}
	partName := args.PartitionName
	if partName == "" {
		partName = "default"
	}
	pfn, ok := w.Program.Registry.Lookup(partName)
	if !ok {
		return nil, nil, fmt.Errorf("no partition function registered under %q", partName)
	}
	partFn, ok := pfn.(PartitionFunc)
	if !ok {
		return nil, nil, fmt.Errorf("%q is not a PartitionFunc", partName)
	}
	return mapFn, partFn, nil
}

func (w *WorkerProcess) resolveReduceFunc(args *StartTaskArgs) (ReduceFunc, error) {
	fn, ok := w.Program.Registry.Lookup(args.FuncName)
	if !ok {
		return nil, fmt.Errorf("no reduce function registered under %q", args.FuncName)
	}
	reduceFn, ok := fn.(ReduceFunc)
	if !ok {
		return nil, fmt.Errorf("%q is not a ReduceFunc", args.FuncName)
	}
	return reduceFn, nil
}

func (w *WorkerProcess) reportDone(taskID int, phase Phase, urls []string) {
	w.mu.Lock()
	id, cookie := w.id, w.cookie
	w.mu.Unlock()

	var doneReply BoolReply
	call(w.MasterAddr, DoneMethod, &DoneArgs{
		WorkerID:   id,
		TaskID:     taskID,
		Phase:      phase,
		OutputURLs: urls,
		Cookie:     cookie,
	}, &doneReply)

	var readyReply BoolReply
	call(w.MasterAddr, ReadyMethod, &ReadyArgs{WorkerID: id, Cookie: cookie}, &readyReply)
}
