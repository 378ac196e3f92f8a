// Package telemetry 封装 OpenTelemetry SDK 初始化，
// 为摄取与查询 span 提供全局 TracerProvider 和 MeterProvider（OTLP gRPC）。
// 遥测关闭时使用 noop 实现，不连接任何外部服务。
package telemetry
