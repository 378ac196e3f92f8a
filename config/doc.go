// Package config 提供 ragcore 的配置管理功能。
//
// 配置来源依次为默认值、YAML 文件和环境变量（前缀 RAGCORE，
// 键名为 RAGCORE_<SECTION>_<FIELD>）。Validate 对分块、权重、
// 维度与后端选择做一次性校验，失败时返回 CONFIGURATION_ERROR。
package config
