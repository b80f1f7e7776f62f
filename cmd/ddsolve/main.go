// ddsolve solves -div(grad u) + sigma u = f on a rectangle with homogeneous
// Dirichlet conditions, decomposed into subdomains coupled through an
// optimized Schwarz interface operator and an outer GMRES iteration. With
// -mesh it instead reads an unstructured volume mesh, partitions it with
// METIS, and reports the interface topology.
package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"github.com/notargets/DDKernel/comm"
	"github.com/notargets/DDKernel/ddmesh"
	"github.com/notargets/DDKernel/ddoper"
	"github.com/notargets/DDKernel/diag"
	"github.com/notargets/DDKernel/fespace"
	"github.com/notargets/DDKernel/krylov"
	"github.com/notargets/DDKernel/mesh"
	"github.com/notargets/DDKernel/partitions"
	"github.com/notargets/DDKernel/vis"
)

func main() {
	var (
		meshFile  = flag.String("mesh", "", "unstructured mesh file (.neu/.msh/.su2); topology report only")
		nx        = flag.Int("nx", 16, "elements in x")
		ny        = flag.Int("ny", 16, "elements in y")
		lx        = flag.Float64("lx", 1, "domain extent in x")
		ly        = flag.Float64("ly", 1, "domain extent in y")
		nsub      = flag.Int("nsub", 4, "number of subdomains")
		strategy  = flag.String("partition", "cartesian", "partition strategy: cartesian, block, roundrobin")
		np        = flag.Int("np", 1, "number of ranks")
		sigma     = flag.Float64("sigma", 1, "reaction coefficient")
		penalty   = flag.Float64("penalty", 0, "interface impedance p (0 = 1/h_min)")
		backend   = flag.String("backend", "cholesky", "local factorization: cholesky or lu")
		rtol      = flag.Float64("rtol", 1e-8, "GMRES relative tolerance")
		maxit     = flag.Int("maxit", 100, "GMRES iteration cap")
		kdim      = flag.Int("kdim", 100, "GMRES restart dimension")
		imbalance = flag.Float64("imbalance", 0.05, "METIS allowed imbalance fraction")
		visAddr   = flag.String("vis", "", "GLVis server address (empty = off)")
		diagFile  = flag.String("diag", "", "append run record to this file")
	)
	flag.Parse()
	log.SetFlags(0)

	if *meshFile != "" {
		if err := topologyReport(*meshFile, *nsub, *imbalance, *np); err != nil {
			log.Fatalf("ddsolve: %v", err)
		}
		return
	}
	if err := solve(solveParams{
		nx: *nx, ny: *ny, lx: *lx, ly: *ly,
		nsub: *nsub, strategy: *strategy, np: *np,
		sigma: *sigma, penalty: *penalty, backend: *backend,
		rtol: *rtol, maxit: *maxit, kdim: *kdim,
		visAddr: *visAddr, diagFile: *diagFile,
	}); err != nil {
		log.Fatalf("ddsolve: %v", err)
	}
}

type solveParams struct {
	nx, ny            int
	lx, ly            float64
	nsub, np          int
	strategy, backend string
	sigma, penalty    float64
	rtol              float64
	maxit, kdim       int
	visAddr, diagFile string
}

func solve(p solveParams) error {
	be, err := ddoper.ParseBackend(p.backend)
	if err != nil {
		return err
	}

	m, err := mesh.NewCartesian2D(p.nx, p.ny, p.lx, p.ly)
	if err != nil {
		return err
	}
	layout, err := buildLayout(m, p.strategy, p.nsub)
	if err != nil {
		return err
	}
	eToR, err := partitions.RankAssignment(m.NumElements(), p.np)
	if err != nil {
		return err
	}
	stats := layout.Statistics()
	log.Printf("mesh %dx%d (%d elements), %d subdomains (imbalance %.3f), %d ranks",
		p.nx, p.ny, m.NumElements(), layout.NumSubdomains, stats.Imbalance, p.np)

	// Manufactured problem: u = sin(pi x / lx) sin(pi y / ly).
	exact := func(x []float64) float64 {
		return math.Sin(math.Pi*x[0]/p.lx) * math.Sin(math.Pi*x[1]/p.ly)
	}
	scale := math.Pi*math.Pi/(p.lx*p.lx) + math.Pi*math.Pi/(p.ly*p.ly) + p.sigma
	source := func(x []float64) float64 { return scale * exact(x) }

	cfg := ddoper.Config{Sigma: p.sigma, Penalty: p.penalty, Backend: be}
	start := time.Now()

	return comm.Run(p.np, func(c *comm.Comm) error {
		dm, err := mesh.Distribute(m, eToR, layout.EToS, c)
		if err != nil {
			return err
		}
		topo, err := (&ddmesh.TopologyBuilder{DM: dm, NumSubdomains: layout.NumSubdomains}).Build()
		if err != nil {
			return err
		}
		sms, err := ddmesh.BuildSubdomainMeshes(dm, layout.NumSubdomains)
		if err != nil {
			return err
		}
		ifms, err := ddmesh.BuildInterfaceMeshes(dm, topo)
		if err != nil {
			return err
		}
		// Straddling faces count once per holding rank, like the adjacency
		// weights.
		localFaces := 0
		for _, im := range ifms {
			localFaces += im.Mesh.NumElements()
		}
		seamFaces, err := c.AllReduceInt(localFaces, comm.OpSum)
		if err != nil {
			return err
		}
		ts := ddoper.NewTraceSpace(topo)
		op, err := ddoper.NewInterfaceOperator(c, topo, ts, sms, cfg, m.NumVertices())
		if err != nil {
			return err
		}
		if err := op.SetSource(source); err != nil {
			return err
		}
		rhs, err := op.GetReducedSource()
		if err != nil {
			return err
		}
		if c.Rank() == 0 {
			all := make([]int, topo.NumInterfaces)
			for i := range all {
				all[i] = i
			}
			log.Printf("%d interfaces (%d seam faces), %d trace unknowns, impedance p = %.6g",
				topo.NumInterfaces, seamFaces, ts.Total(all), op.Penalty())
		}

		g := &krylov.GMRES{
			Op:   op,
			C:    c,
			Opts: krylov.Options{RelTol: p.rtol, MaxIter: p.maxit, KDim: p.kdim},
		}
		lam := make([]float64, op.Height())
		res, err := g.Solve(rhs, lam)
		if err != nil {
			return err
		}
		if c.Rank() == 0 {
			log.Printf("GMRES: %d iterations, relative residual %.3e, converged=%t",
				res.Iterations, res.Residual, res.Converged)
		}

		u, err := op.RecoverDomainSolution(lam, sms, nil)
		if err != nil {
			return err
		}
		if c.Rank() != 0 {
			return nil
		}

		sp, err := fespace.NewSpace(m)
		if err != nil {
			return err
		}
		l2, err := sp.L2Error(u, exact)
		if err != nil {
			return err
		}
		log.Printf("L2 error against exact solution: %.6e", l2)

		if p.visAddr != "" {
			if err := vis.SendSolution(vis.Options{Addr: p.visAddr}, m, u); err != nil {
				log.Printf("visualization skipped: %v", err)
			}
		}
		if p.diagFile != "" {
			rec := diag.Record{
				When:       time.Now(),
				Elements:   m.NumElements(),
				Subdomains: layout.NumSubdomains,
				Ranks:      p.np,
				Penalty:    op.Penalty(),
				Iterations: res.Iterations,
				Converged:  res.Converged,
				Residual:   res.Residual,
				L2Error:    l2,
				WallClock:  time.Since(start),
			}
			if err := diag.Append(p.diagFile, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func buildLayout(m *mesh.Mesh, strategy string, nsub int) (*partitions.SubdomainLayout, error) {
	b := &partitions.Builder{Mesh: m, NumSubdomains: nsub}
	switch strategy {
	case "cartesian":
		b.Strategy = partitions.Cartesian
		b.Nxyz = []int{nsub, 1}
	case "block":
		b.Strategy = partitions.Block
	case "roundrobin":
		b.Strategy = partitions.RoundRobin
	default:
		return nil, fmt.Errorf("unknown partition strategy %q", strategy)
	}
	return b.Build()
}

// topologyReport partitions an unstructured volume mesh with METIS and
// prints the subdomain interface structure without solving.
func topologyReport(path string, nsub int, imbalance float64, np int) error {
	m, gm, err := mesh.ReadFile(path)
	if err != nil {
		return err
	}
	eToS, err := partitions.MetisPartition(gm, nsub, imbalance, "cut")
	if err != nil {
		return err
	}
	layout, err := partitions.NewLayoutFromMap(eToS, nsub)
	if err != nil {
		return err
	}
	if err := layout.ValidateCoverage(m.NumElements()); err != nil {
		return err
	}
	stats := layout.Statistics()
	log.Printf("%s: %d elements, %d vertices; %d subdomains (min %d, max %d, imbalance %.3f)",
		path, m.NumElements(), m.NumVertices(), nsub, stats.MinElements, stats.MaxElements, stats.Imbalance)

	eToR, err := partitions.RankAssignment(m.NumElements(), np)
	if err != nil {
		return err
	}
	return comm.Run(np, func(c *comm.Comm) error {
		dm, err := mesh.Distribute(m, eToR, layout.EToS, c)
		if err != nil {
			return err
		}
		topo, err := (&ddmesh.TopologyBuilder{DM: dm, NumSubdomains: nsub}).Build()
		if err != nil {
			return err
		}
		if c.Rank() != 0 {
			return nil
		}
		log.Printf("%d interfaces, %d boundary vertices", topo.NumInterfaces, len(topo.BoundaryVertices))
		for idx, ifc := range topo.Interfaces {
			fmt.Fprintf(os.Stdout, "interface %d: subdomains (%d,%d), %d shared vertices\n",
				idx, ifc.SD0, ifc.SD1, len(ifc.SharedVertices))
		}
		for sd := 0; sd < nsub; sd++ {
			nbrs, err := topo.NeighborSubdomains(sd)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "subdomain %d: %d interfaces, neighbors %v\n",
				sd, len(topo.InterfacesOf(sd)), nbrs)
		}
		return nil
	})
}
