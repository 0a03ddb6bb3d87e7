package transfer

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"

	"github.com/dbmirror/dbmirror/src/pkg/dbconn"
)

// ErrStreamConsumed 行序列被第二次遍历
var ErrStreamConsumed = errors.New("row stream already consumed")

// StreamRows 返回表中所有行的惰性序列，每次只从服务端取一行
// 序列只能遍历一次；读取出错时产出该错误后结束
// 正常结束、出错或者调用方提前 break 时都会关闭游标
func StreamRows(ctx context.Context, session dbconn.Session, table string) iter.Seq2[dbconn.Row, error] {
	var consumed atomic.Bool
	return func(yield func(dbconn.Row, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(dbconn.Row{}, ErrStreamConsumed)
			return
		}
		cur, err := session.StreamRows(ctx, table)
		if err != nil {
			yield(dbconn.Row{}, err)
			return
		}
		defer cur.Close()

		for cur.Next() {
			if err := ctx.Err(); err != nil {
				yield(dbconn.Row{}, err)
				return
			}
			row, err := cur.Row()
			if err != nil {
				yield(dbconn.Row{}, err)
				return
			}
			if !yield(row, nil) {
				return
			}
		}
		if err := cur.Err(); err != nil {
			yield(dbconn.Row{}, err)
		}
	}
}
