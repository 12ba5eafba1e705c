/*
Package persister keeps the management plane sync record in an object store so
that every management node can see which nodes exist, their status, and which
one is master.

# Layout

	nodes/<nodeId>   one YAML node record per management node
	master           the master node id, empty when none is recorded
	change.log       append-only audit log, one line per change

Deployments created by older releases stored the master pointer and change log
at "/master" and "/change.log". The first operation probes for "/master" and,
if it exists, keeps using the leading-slash paths for the life of the process.
Node records are always under "nodes/".

# Lifecycle

A Persister starts uninitialized and touches the store only on first use:

	Uninitialized ──first op──► Initializing ──► Ready ──Stop──► Stopped
	      ▲                          │
	      └────── init failure ──────┘

After Stop, LoadSyncRecord returns ErrNotRunning while Delta and Checkpoint
log and return nil. Stop flushes each accessor for at most ShutdownTimeout.

# Writes

Every blob is written through an objectstore.LockingAccessor. Node accessors
are cached per node id for the life of the Persister, so all writes to one node
blob go through one queue. Delta applies its parts in order:

 1. upserts, each waited on for SyncWriteTimeout
 2. removals, each a synchronous delete
 3. the master change

Change-log lines queued by upserts and removals are not waited on;
WaitForWritesCompleted is the synchronization point for them. Master changes
wait for both the pointer write and its change-log line.

ClearMaster reads the current pointer and empties it only when it still names
the expected node. The read and the write are separate operations; two nodes
racing can both pass the check.

# Reads

LoadSyncRecord reads the master pointer first and the node blobs second, with
no caching. A node blob that disappears between listing and reading is
skipped. A node blob that exists but cannot be read or decoded fails the whole
load with a *CorruptRecordError.
*/
package persister
