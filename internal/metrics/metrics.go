// Package metrics 定义媒体与工作流相关的 Prometheus 指标。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// UploadsTotal 按后端、媒体类型和结果统计上传次数
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_media_uploads_total",
			Help: "Total number of media uploads",
		},
		[]string{"backend", "type", "result"},
	)

	// UploadBytes 记录最终写入存储的字节数
	UploadBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "newsdesk_media_upload_bytes",
			Help:    "Size of stored media objects in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		},
		[]string{"backend", "type"},
	)

	// ImagesResized 统计被缩放重新编码的图片
	ImagesResized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsdesk_images_resized_total",
		Help: "Number of images downscaled during ingestion",
	})

	// StorageOps 统计存储后端调用
	StorageOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_storage_operations_total",
			Help: "Storage backend operations by outcome",
		},
		[]string{"backend", "op", "result"},
	)

	// MetadataCacheLookups 统计原始文件名缓存命中情况
	MetadataCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_metadata_cache_lookups_total",
			Help: "Original-name cache lookups during catalog listing",
		},
		[]string{"result"},
	)

	// Transitions 统计稿件状态流转
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsdesk_article_transitions_total",
			Help: "Article workflow transitions by outcome",
		},
		[]string{"transition", "result"},
	)
)

// Result 把 error 转换为标签值。
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
