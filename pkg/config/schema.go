package config

// fileSchema closes the configuration structure and supplies defaults.
// User values are unified with #File before decoding.
const fileSchema = `
#Identifier: =~"^[A-Za-z_][A-Za-z0-9_]*$"

#File: {
	workspace: {
		dir:     string | *"."
		profile: #Identifier | *"default"
	}

	engine: {
		progress_buffer: int & >=1 | *256
		max_parallel:    int & >=1 | *10
	}

	storage: {
		backend: "file" | "sqlite" | "s3" | *"file"
		sqlite?: path: string
		s3?: {
			bucket:  string & !=""
			prefix?: string
			region?: string
		}
	}

	telemetry: {
		log: {
			level:  "trace" | "debug" | "info" | "warn" | "error" | *"info"
			format: "console" | "json" | *"console"
		}
		tracing: {
			enabled:       bool | *false
			exporter:      "stdout" | "otlp" | "none" | *"none"
			endpoint?:     string
			sampling_rate: number & >=0 & <=1 | *1.0
			insecure:      bool | *true
		}
		metrics: address?: string
	}

	policies: {
		paths:           [...string] | *[]
		protected_items: [...#Identifier] | *[]
	}

	flows: [#Identifier]: #Flow
}

#Flow: items: [...#Item]

#Item: {
	id:          #Identifier
	kind:        string & !=""
	params?:     {...}
	depends_on?: [...#Identifier]
}
`
