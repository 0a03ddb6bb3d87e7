package configs

import "gopkg.in/yaml.v3"

// DecorateConfigNode 将硬编码的中文注释注入到配置节点树中。
func DecorateConfigNode(node *yaml.Node) {
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return
	}
	root := node.Content[0]
	if root.Kind != yaml.MappingNode {
		return
	}

	root.HeadComment = `# 这个配置文件内的注释是自动生成的，请不要手动修改。
# 需要修改注释时，请在 src/configs/config_comments.go 文件内修改。`

	setFieldComment(root, "mode",
		`# single: 只迁移 source.database 指定的库
# multi: 迁移 databases 列表中的库，列表为空时启动后交互选择`, "")
	setFieldLineComment(root, "databases", "# 可以写库名，也可以写 all 表示全部")
	setFieldLineComment(root, "threads", "# 同时迁移的表数量上限")
	setFieldLineComment(root, "batch_size", "# 每写入多少行汇报一次进度")
	setFieldLineComment(root, "fault_log", "# 失败的表、行会追加写入这个文件")

	for _, key := range []string{"source", "target"} {
		profile := findNode(root, key)
		if profile == nil {
			continue
		}
		setFieldLineComment(profile, "password", "# 也可以通过环境变量或 .env 文件提供")
		if key == "target" {
			setFieldLineComment(profile, "database", "# 仅 single 模式可用，留空时与源库同名")
		}
		setFieldComment(profile, "params",
			`# 追加到 DSN 的连接参数，例如
#   params:
#     charset: utf8mb4`, "")
	}

	loadNode := findNode(root, "load")
	if loadNode != nil {
		setFieldComment(loadNode, "ceiling",
			`# 1 分钟平均负载乘以 100 后的上限
# 达到上限时暂停派发新的表，已经在迁移的表不受影响`, "")
		setFieldLineComment(loadNode, "per_cpu", "# 按 CPU 核数归一化后再比较")
	}

	pauseNode := findNode(root, "pause")
	if pauseNode != nil {
		setFieldComment(pauseNode, "file",
			`# 这个文件存在时所有迁移暂停，删除后继续
# 也可以使用 dbmirror pause / dbmirror resume`, "")
	}

	setFieldHeadComment(root, "history", "# 运行历史（SQLite）")
	setFieldHeadComment(root, "rpc", "# 状态接口，提供 /metrics、/api/progress、/api/pause")

	setFieldHeadComment(root, "notify", "# 通知服务配置")
	notifyNode := findNode(root, "notify")
	if notifyNode != nil {
		email := findNode(notifyNode, "email")
		if email != nil {
			setFieldComment(email, "enable", "# 迁移结束后是否发送Email通知", "")
			setFieldComment(email, "smtpHost", "# SMTP服务器地址 (例如: smtp.gmail.com, smtp.qq.com等)", "")
			setFieldComment(email, "smtpPort", "# SMTP服务器端口 (常用端口: 25, 465, 587)", "")
			setFieldComment(email, "senderEmail", "# 发送者邮箱地址", "")
			setFieldComment(email, "senderPassword", "# 发送者邮箱授权码或应用专用密码", "")
			setFieldComment(email, "recipientEmail", "# 接收者邮箱地址 ", "")
		}
	}

	setFieldHeadComment(root, "sentry", "# Sentry 错误监控配置（用于收集崩溃日志）")
	sentryNode := findNode(root, "sentry")
	if sentryNode != nil {
		setFieldComment(sentryNode, "enable", "# 是否启用 Sentry 错误监控", "")
		setFieldComment(sentryNode, "dsn", "# Sentry DSN，留空则禁用", "")
		setFieldComment(sentryNode, "environment", "# 环境标识：production 或 development", "")
	}
}

func findNode(mapNode *yaml.Node, key string) *yaml.Node {
	for i := 0; i < len(mapNode.Content); i += 2 {
		if mapNode.Content[i].Value == key {
			return mapNode.Content[i+1]
		}
	}
	return nil
}

func setFieldComment(mapNode *yaml.Node, key, headComment, lineComment string) {
	for i := 0; i < len(mapNode.Content); i += 2 {
		k := mapNode.Content[i]
		if k.Value == key {
			if headComment != "" {
				k.HeadComment = headComment
			}
			if lineComment != "" {
				k.LineComment = lineComment
			}
			return
		}
	}
}

func setFieldLineComment(mapNode *yaml.Node, key, lineComment string) {
	for i := 0; i < len(mapNode.Content); i += 2 {
		k := mapNode.Content[i]
		if k.Value == key {
			k.LineComment = lineComment
			return
		}
	}
}

func setFieldHeadComment(mapNode *yaml.Node, key, headComment string) {
	for i := 0; i < len(mapNode.Content); i += 2 {
		k := mapNode.Content[i]
		if k.Value == key {
			k.HeadComment = headComment
			return
		}
	}
}
