package contract

import "context"

// Destination: 可插拔的投递目的地（本地目录、FTP、工单系统等）。
// 约束：
//  1. Report 自行向 IO 报告失败原因，再返回 Failed；
//  2. 用户在目的地内部取消时返回 Canceled；
//  3. 核心只观察三态结果，不检查副作用。
type Destination interface {
	// Label: 展示标签；override 非空时通常直接采用。
	Label(override string) string
	// Description: 选项列表中的说明文本。
	Description(opts Options) string
	Report(ctx context.Context, sig Signature, io IO, opts Options) Outcome
}
