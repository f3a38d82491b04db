package notification

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// errCriteria は検索条件の指定が不正なことを表す。
var errCriteria = errors.New("検索条件が不正です")

// operator はフィルタ条件の演算子。フィールドの型ごとに使用可能な演算子が決まる。
type operator string

const (
	opEquals             operator = "equals"
	opContains           operator = "contains"
	opGreaterThan        operator = "greaterThan"
	opGreaterThanOrEqual operator = "greaterThanOrEqual"
	opLessThan           operator = "lessThan"
	opLessThanOrEqual    operator = "lessThanOrEqual"
)

// condition は1フィールドに対するフィルタ条件（フィールド、演算子、オペランド）の組。
// オペランドは未解釈の文字列として保持し、SQL組み立て時に型変換する。
type condition struct {
	field string
	op    operator
	value string
}

// fieldKind はフィルタ可能フィールドの型分類。
type fieldKind int

const (
	// kindNumber は数値フィールド。equalsと範囲演算子を許可する。
	kindNumber fieldKind = iota
	// kindText はテキストフィールド。equalsとcontainsを許可する。
	kindText
	// kindBool は真偽値フィールド。equals（true/false）のみ許可する。
	kindBool
)

// fieldSpec はリクエスト上のフィールド名と格納列・型の対応。
type fieldSpec struct {
	column string
	kind   fieldKind
}

// criteriaFields はフィルタとソートに使用できるフィールドの一覧。
// キーはリクエストパラメータ上のフィールド名。
var criteriaFields = map[string]fieldSpec{
	"id":            {column: "id", kind: kindNumber},
	"message":       {column: "message", kind: kindText},
	"reservationId": {column: "reservation_id", kind: kindNumber},
	"userLogin":     {column: "user_login", kind: kindText},
	"deleted":       {column: "is_deleted", kind: kindBool},
	"read":          {column: "is_read", kind: kindBool},
}

// allowedOperator は演算子がフィールド型に対して使用可能かを返す。
func allowedOperator(kind fieldKind, op operator) bool {
	switch kind {
	case kindNumber:
		switch op {
		case opEquals, opGreaterThan, opGreaterThanOrEqual, opLessThan, opLessThanOrEqual:
			return true
		}
	case kindText:
		switch op {
		case opEquals, opContains:
			return true
		}
	case kindBool:
		return op == opEquals
	}
	return false
}

// reservedParams は検索条件として解釈しないページネーション用パラメータ。
var reservedParams = map[string]struct{}{
	"page": {},
	"size": {},
	"sort": {},
}

// parseCriteria は `field.operator=value` 形式のクエリパラメータを条件リストに変換する。
// ドットを含まないパラメータとページネーション用パラメータは無視する。
// 指定の無いフィールドは制約なし（nullフィルタではない）として扱う。
// 条件は常にANDで合成される。
func parseCriteria(values url.Values) ([]condition, error) {
	// マップの列挙順に依存しないよう、キーをソートして決定的な順序にする
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var conds []condition
	for _, key := range keys {
		if _, ok := reservedParams[key]; ok {
			continue
		}
		field, opName, found := strings.Cut(key, ".")
		if !found {
			continue
		}

		spec, ok := criteriaFields[field]
		if !ok {
			return nil, fmt.Errorf("%w: フィールド %q はフィルタできません", errCriteria, field)
		}
		op := operator(opName)
		if !allowedOperator(spec.kind, op) {
			return nil, fmt.Errorf("%w: フィールド %q に演算子 %q は使用できません", errCriteria, field, opName)
		}

		value := values.Get(key)
		if err := validateOperand(spec.kind, value); err != nil {
			return nil, fmt.Errorf("%w: フィールド %q のオペランド %q が不正です", errCriteria, field, value)
		}
		conds = append(conds, condition{field: field, op: op, value: value})
	}
	return conds, nil
}

// validateOperand はオペランドがフィールド型として解釈可能かを検証する。
func validateOperand(kind fieldKind, value string) error {
	switch kind {
	case kindNumber:
		_, err := strconv.ParseInt(value, 10, 64)
		return err
	case kindBool:
		_, err := strconv.ParseBool(value)
		return err
	default:
		return nil
	}
}

// likeEscaper はLIKEパターン内のワイルドカード文字をエスケープする。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// buildPredicates は条件リストをWHERE句とバインド引数に変換する。
// 条件が空の場合は空のWHERE句を返す。戻り値のWHERE句は先頭に空白を含む。
func buildPredicates(conds []condition) (string, []any, error) {
	if len(conds) == 0 {
		return "", nil, nil
	}

	fragments := make([]string, 0, len(conds))
	args := make([]any, 0, len(conds))
	for _, cond := range conds {
		spec, ok := criteriaFields[cond.field]
		if !ok {
			return "", nil, fmt.Errorf("%w: フィールド %q はフィルタできません", errCriteria, cond.field)
		}

		switch cond.op {
		case opEquals:
			fragments = append(fragments, spec.column+" = ?")
			arg, err := operandArg(spec.kind, cond.value)
			if err != nil {
				return "", nil, fmt.Errorf("%w: フィールド %q のオペランド %q が不正です", errCriteria, cond.field, cond.value)
			}
			args = append(args, arg)
		case opContains:
			if spec.kind != kindText {
				return "", nil, fmt.Errorf("%w: フィールド %q に演算子 %q は使用できません", errCriteria, cond.field, cond.op)
			}
			fragments = append(fragments, spec.column+` LIKE ? ESCAPE '\'`)
			args = append(args, "%"+likeEscaper.Replace(cond.value)+"%")
		case opGreaterThan, opGreaterThanOrEqual, opLessThan, opLessThanOrEqual:
			if spec.kind != kindNumber {
				return "", nil, fmt.Errorf("%w: フィールド %q に演算子 %q は使用できません", errCriteria, cond.field, cond.op)
			}
			number, err := strconv.ParseInt(cond.value, 10, 64)
			if err != nil {
				return "", nil, fmt.Errorf("%w: フィールド %q のオペランド %q が不正です", errCriteria, cond.field, cond.value)
			}
			fragments = append(fragments, spec.column+" "+comparisonSymbol(cond.op)+" ?")
			args = append(args, number)
		default:
			return "", nil, fmt.Errorf("%w: 演算子 %q は未対応です", errCriteria, cond.op)
		}
	}
	return " WHERE " + strings.Join(fragments, " AND "), args, nil
}

// operandArg はequals演算子のオペランドをバインド引数に変換する。
func operandArg(kind fieldKind, value string) (any, error) {
	switch kind {
	case kindNumber:
		return strconv.ParseInt(value, 10, 64)
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, err
		}
		return boolToInt(b), nil
	default:
		return value, nil
	}
}

// comparisonSymbol は範囲演算子をSQLの比較記号に変換する。
func comparisonSymbol(op operator) string {
	switch op {
	case opGreaterThan:
		return ">"
	case opGreaterThanOrEqual:
		return ">="
	case opLessThan:
		return "<"
	default:
		return "<="
	}
}

// ページネーションのデフォルト値と上限。
const (
	defaultPageSize = 20
	maxPageSize     = 1000
)

// pageRequest はページ番号・ページサイズ・ソート指定を表す。
type pageRequest struct {
	// page は0始まりのページ番号。
	page int
	// size は1ページあたりの件数。
	size int
	// sortColumn はソート対象の列名（検証済み）。
	sortColumn string
	// sortDesc は降順ソートかどうか。
	sortDesc bool
}

// parsePageRequest はpage・size・sortクエリパラメータを解釈する。
// sortは `field` または `field,asc|desc` 形式で、フィールド名はcriteriaFieldsに
// 含まれるものだけを許可する。デフォルトはID昇順。
func parsePageRequest(values url.Values) (pageRequest, error) {
	page := pageRequest{page: 0, size: defaultPageSize, sortColumn: "id"}

	if raw := values.Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			return pageRequest{}, fmt.Errorf("%w: ページ番号 %q が不正です", errCriteria, raw)
		}
		page.page = parsed
	}

	if raw := values.Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return pageRequest{}, fmt.Errorf("%w: ページサイズ %q が不正です", errCriteria, raw)
		}
		if parsed > maxPageSize {
			parsed = maxPageSize
		}
		page.size = parsed
	}

	if raw := values.Get("sort"); raw != "" {
		field, direction, hasDirection := strings.Cut(raw, ",")
		spec, ok := criteriaFields[field]
		if !ok {
			return pageRequest{}, fmt.Errorf("%w: フィールド %q ではソートできません", errCriteria, field)
		}
		page.sortColumn = spec.column
		if hasDirection {
			switch direction {
			case "asc":
				page.sortDesc = false
			case "desc":
				page.sortDesc = true
			default:
				return pageRequest{}, fmt.Errorf("%w: ソート方向 %q が不正です", errCriteria, direction)
			}
		}
	}

	return page, nil
}
