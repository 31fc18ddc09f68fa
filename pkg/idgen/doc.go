// Package idgen 提供递增 ID 生成器
//
// 使用 Sonyflake 算法生成全局唯一且时间有序的 64 位 ID，并加上资源前缀：
//   - Volume ID: vol-{递增数字}
//   - 挂载记录 ID: att-{递增数字}
//
// 使用方式：
//
//	// 包级别便捷函数（使用默认生成器）
//	attachmentID, err := idgen.GenerateAttachmentID()
//
//	// 独立的生成器
//	gen := idgen.New()
//	volumeID, err := gen.GenerateVolumeID()
package idgen
