package buildenv

import (
	"bytes"
	"text/template"

	"go.chromium.org/luci/common/errors"
)

// goVersionDefault is the toolchain installed by the WithGo variant.
const goVersionDefault = "1.22.4"

// baseDefault is the base image of the build container.
const baseDefault = "debian:bookworm-slim"

// Params parameterizes the generated Dockerfile.
type Params struct {
	// Base is the base image of the build container.
	Base string
	// User and UID create the non-root build user. The generated ARGs can
	// still be overridden at docker build time.
	User string
	UID  int
	// WithGo additionally installs a Go toolchain so the container can
	// build and run the emulator itself, and extends PATH with the
	// system and user-local Go binary directories.
	WithGo bool
	// GoVersion selects the toolchain for WithGo.
	GoVersion string
}

func (p Params) withDefaults() Params {
	if p.Base == "" {
		p.Base = baseDefault
	}
	if p.User == "" {
		p.User = "builder"
	}
	if p.UID == 0 {
		p.UID = 1000
	}
	if p.GoVersion == "" {
		p.GoVersion = goVersionDefault
	}
	return p
}

var dockerfileTmpl = template.Must(template.New("dockerfile").Parse(`FROM {{.Base}}

RUN apt-get update && apt-get install -y --no-install-recommends \
	build-essential \
	make \
	nasm \
	&& rm -rf /var/lib/apt/lists/*

ARG USER={{.User}}
ARG UID={{.UID}}
RUN useradd --create-home --uid ${UID} --shell /bin/bash ${USER}
{{if .WithGo}}
RUN apt-get update && apt-get install -y --no-install-recommends \
	ca-certificates \
	curl \
	&& rm -rf /var/lib/apt/lists/*
RUN curl -fsSL https://go.dev/dl/go{{.GoVersion}}.linux-amd64.tar.gz | tar -C /usr/local -xz
ENV PATH="/usr/local/go/bin:${PATH}"
{{end}}
USER ${USER}
WORKDIR /home/${USER}/work
{{- if .WithGo}}
ENV PATH="/home/${USER}/go/bin:${PATH}"
{{- end}}
`))

// Dockerfile renders the build-environment Dockerfile.
func Dockerfile(p Params) ([]byte, error) {
	var buf bytes.Buffer
	if err := dockerfileTmpl.Execute(&buf, p.withDefaults()); err != nil {
		return nil, errors.Annotate(err, "rendering Dockerfile").Err()
	}
	return buf.Bytes(), nil
}
