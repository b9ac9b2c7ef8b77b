// Package sim assembles the distributed block-structured multiresolution grid
// into a runnable simulation.
//
// # Reading Guide
//
// Start with these files to understand the time stepping:
//   - assembler.go: initialization, the local-time-stepping micro step and the macro step loop
//   - phase.go: the order of the stages inside a micro step
//   - runner.go: one Assembler per rank on an in-process world
//
// # Architecture
//
// The grid core lives in sub-packages, each operating on the forest of one
// rank and communicating through sim/comm:
//   - sim/nodeid/: node identifiers and the level-zero domain
//   - sim/topology/: the replicated directory of all nodes, owners and materials
//   - sim/block/, sim/tree/: per-node field buffers and the local forest
//   - sim/multiresolution/: restriction, prediction and wavelet details
//   - sim/halo/: ghost-cell exchange including prediction across resolution jumps
//   - sim/jumpflux/: conservation correction at resolution jumps
//   - sim/remesh/: refinement and coarsening decisions
//   - sim/balance/: weight-based redistribution of nodes across ranks
//   - sim/snapshot/: CBOR capture and restore of a forest
//   - sim/physics/: equation-dependent collaborators and a reference advection set
//   - sim/trace/: decision trace recording
//
// Every operation that touches more than one rank is collective: all ranks
// must call it in the same order with compatible arguments.
package sim
