// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package logger provides structured JSON logging for the workflow runtime
and its collaborators.

# Overview

The logger package provides structured logging that writes JSON through
the standard library log package (stderr unless redirected with
log.SetOutput), making logs easily consumable by CloudWatch, ELK stack,
or other log aggregation systems.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (gate, preprocessing, router, retrieval, experts, ...)
  - Instance ID and container name (for distributed tracing)
  - Credential ID (the requesting principal, for rate-limit/audit correlation)
  - Trace ID (the workflow request's trace id, for cross-node correlation)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("router")

Log messages with credential and trace context:

	log.Info(credentialID, traceID, "plan produced", map[string]interface{}{
	    "agents":  agentTags,
	    "experts": expertTags,
	})

Log errors with status codes:

	log.ErrorWithCode(credentialID, traceID, "agent failed", 500, err, map[string]interface{}{
	    "agent": "vector",
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration(credentialID, traceID, "node completed",
	    float64(time.Since(start).Milliseconds()), nil)

# Output Format

Log entries are output as single-line JSON, preceded by the standard
logger's date and time prefix:

	{"timestamp":"2025-01-15T10:30:00.123456789Z","level":"INFO",
	 "component":"router","instance_id":"i-abc123","container":"router-xyz",
	 "credential_id":"cred-123","trace_id":"trace-456",
	 "message":"plan produced","fields":{"agents":["graph","vector"]}}

# Environment Variables

The logger reads this environment variable:

  - INSTANCE_ID: Deployment instance identifier (default: "unknown")

The container name is taken from os.Hostname().

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger
