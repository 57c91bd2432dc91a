// Package config загружает конфигурацию mediaflow.
//
// Источники в порядке приоритета (последний выигрывает):
//   - значения по умолчанию (Default)
//   - TOML-файл из аргумента Load или $MEDIAFLOW_CONFIG
//   - переменные окружения, в том числе из .env
//
// Пример TOML:
//
//	[worker]
//	concurrency = 8
//
//	[[flows]]
//	name = "label-detection"
//	steps = ["LABEL", "SHOT", "FACE", "SPEECH", "TEXT"]
//	policy = "any-success"
//	independent_steps = ["LABEL", "SHOT", "FACE", "SPEECH", "TEXT"]
//	retry = { max_attempts = 3, backoff = "exponential", initial_delay_ms = 1000, max_delay_ms = 30000 }
//
//	[flows.inputs.LABEL]
//	video_uri = "{{ .Inputs.video_uri }}"
//
//	[steps.LABEL]
//	endpoint = "http://label-detector:9000/detect"
//	timeout_sec = 60
//	dedup_entities = true
package config
