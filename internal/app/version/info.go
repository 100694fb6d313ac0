// Package version provides version information for the application.
package version

import (
	"fmt"
	"runtime"
	"time"
)

// 构建时注入的变量，通过ldflags设置
var (
	Version = "v0.1.0"

	BuildTime = "unknown" // RFC3339
	BuildEnv  = "development"
	GitCommit = "unknown"
)

// BuildInfo 构建信息
type BuildInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	BuildEnv  string `json:"build_env"`
	GitCommit string `json:"git_commit"`

	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetBuildInfo 获取完整构建信息
func GetBuildInfo() *BuildInfo {
	return &BuildInfo{
		Version:   Version,
		BuildTime: BuildTime,
		BuildEnv:  BuildEnv,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// GetFullVersion 多行版本信息
func GetFullVersion() string {
	info := GetBuildInfo()
	s := fmt.Sprintf("shelf %s", info.Version)
	if info.BuildTime != "unknown" {
		if t, err := time.Parse(time.RFC3339, info.BuildTime); err == nil {
			s += fmt.Sprintf("\n构建时间: %s", t.Format("2006-01-02 15:04:05 MST"))
		} else {
			s += fmt.Sprintf("\n构建时间: %s", info.BuildTime)
		}
	}
	if info.GitCommit != "unknown" {
		s += fmt.Sprintf("\n提交: %s", info.GitCommit)
	}
	s += fmt.Sprintf("\n构建环境: %s", info.BuildEnv)
	s += fmt.Sprintf("\nGo版本: %s", info.GoVersion)
	s += fmt.Sprintf("\n平台: %s", info.Platform)
	return s
}
