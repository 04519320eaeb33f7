// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package process provides external process execution and inter-process
synchronization for the zephyr-forge CLI.

# Overview

  - Runner: executes one external program per call with an argument vector,
    captures stdout/stderr and the exit status, and optionally streams output
    line by line to a sink
  - ProcessLock: file-based lock preventing two CLI instances from bringing up
    the same environment at the same time

# Runner

Every docker and docker compose invocation in the CLI goes through Runner so
tests can substitute MockRunner:

	r := process.NewDefaultRunner(process.RunnerConfig{})
	res, err := r.Run(ctx, "docker", []string{"inspect", "zephyr-postgres-dev"},
	    process.RunOptions{Silent: true})
	if err != nil {
	    var pe *process.ProcessError
	    if errors.As(err, &pe) && pe.NotFound {
	        // docker is not installed; retrying will not help
	    }
	}

Arguments are never joined into a shell string, so container names and
labels need no quoting.

Retries are not performed here; callers compose Runner with the retry
package and use IsPermanent as the bail predicate.

# ProcessLock

	lock := process.NewProcessLock(process.DefaultProcessLockConfig())
	if err := lock.Acquire(); err != nil {
	    return err
	}
	defer lock.Release()

# Thread Safety

  - DefaultRunner is safe for concurrent use
  - ProcessLock is NOT safe for concurrent use from multiple goroutines

# Limitations

  - ProcessLock uses advisory flock(2) locks and is unavailable on Windows
*/
package process
