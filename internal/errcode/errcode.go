package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：额度类拒绝，前端据此引导升级套餐
// - 5xxx：系统错误（后台任务失败等）
const (
	OK              = 0
	QuotaExceeded   = 4029
	FeatureDisabled = 4030
	SystemError     = 5000
)
