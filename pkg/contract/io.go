package contract

// Choice: 呈现给用户的一个选项（标题 + 说明 + 绑定值）。
type Choice struct {
	Title       string
	Explanation string
	Value       any
}

// LoginResult: QueryLogin 的结果。
// Remember: nil 表示不改变已保存的凭据；true 保存；false 清除。
type LoginResult struct {
	Username string
	Password string
	Remember *bool
}

// IO: 与人交互的回调面（控制台、脚本化应答等），核心与插件共用。
// 所有 Query* 方法的第二个返回值为 false 表示用户取消。
type IO interface {
	InfoMessage(title, text string)
	FailMessage(title, text string)
	// SuccessMessage: actualLink 用于跳转，displayLink 用于展示；二者指向同一资源。
	SuccessMessage(title, text, actualLink, displayLink string)
	QueryField(label string) (string, bool)
	QueryChoice(prompt string, choices []Choice) (any, bool)
	QueryLogin(account string) (LoginResult, bool)
	UpdateLogin(account string, result LoginResult)
}
